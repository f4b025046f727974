package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedEvent(t *testing.T, id int64, readCt int, eventType string) queuedMessage {
	t.Helper()
	body, err := json.Marshal(domain.WebhookEvent{
		Provider:  domain.ProviderGitHub,
		EventType: eventType,
		UserID:    "u1",
		RepoSlug:  "api",
		RepoName:  "acme/api",
		PRNumber:  42,
	})
	require.NoError(t, err)
	return queuedMessage{
		queue: port.QueueWebhookEvents,
		msg:   port.QueueMessage{ID: id, ReadCt: readCt, EnqueuedAt: time.Now(), Body: body},
	}
}

func queuedAnalysis(t *testing.T, id int64, readCt int) queuedMessage {
	t.Helper()
	body, err := json.Marshal(domain.RepoAnalysisPayload{
		UserID: "u1", Slug: "api", RepoName: "acme/api", Provider: domain.ProviderGitHub,
	})
	require.NoError(t, err)
	return queuedMessage{
		queue: port.QueueRepoAnalysis,
		msg:   port.QueueMessage{ID: id, ReadCt: readCt, EnqueuedAt: time.Now(), Body: body},
	}
}

func newTestScheduler(q port.Queue, store *fakeStore) *Scheduler {
	forges := port.ForgeRegistry{domain.ProviderGitHub: &fakeForge{name: domain.ProviderGitHub}}
	tokens := NewTokenService(store, forges)
	box := &fakeSandbox{container: &fakeContainer{files: map[string]string{}}}
	analyzer := NewAnalyzer(store, tokens, box)
	reviewer := NewReviewer(store, tokens, forges, box, &SkillsCatalog{})
	return NewScheduler(q, analyzer, reviewer, time.Millisecond)
}

func TestSchedulerDropsExhaustedWebhook(t *testing.T) {
	q := &fakeQueue{messages: []queuedMessage{queuedEvent(t, 7, port.MaxReadCount+1, domain.EventPROpened)}}
	s := newTestScheduler(q, &fakeStore{})

	s.iterate(t.Context())
	assert.Equal(t, []int64{7}, q.deleted)
}

func TestSchedulerDeletesClosedEvents(t *testing.T) {
	q := &fakeQueue{messages: []queuedMessage{queuedEvent(t, 3, 1, domain.EventPRClosed)}}
	store := &fakeStore{}
	s := newTestScheduler(q, store)

	s.iterate(t.Context())
	assert.Equal(t, []int64{3}, q.deleted)
	assert.Empty(t, store.insertedReview)
}

func TestSchedulerConsumesAdmissionSkips(t *testing.T) {
	// No connected repo for the event: the reviewer skips and the message
	// is consumed rather than redelivered forever.
	q := &fakeQueue{messages: []queuedMessage{queuedEvent(t, 9, 1, domain.EventPROpened)}}
	s := newTestScheduler(q, &fakeStore{})

	s.iterate(t.Context())
	assert.Equal(t, []int64{9}, q.deleted)
}

func TestSchedulerGivesUpOnExhaustedAnalysis(t *testing.T) {
	repo := reviewableRepo()
	repo.Status = domain.RepoStatusAnalyzing
	store := &fakeStore{repo: repo}
	q := &fakeQueue{messages: []queuedMessage{queuedAnalysis(t, 11, port.MaxReadCount+1)}}
	s := newTestScheduler(q, store)

	s.iterate(t.Context())

	// The repo still advances to interview, with no profile, so the user
	// is not stuck.
	require.Len(t, store.savedAnalyses, 1)
	assert.Nil(t, store.savedAnalyses[0])
	assert.Equal(t, domain.RepoStatusInterview, store.repo.Status)
	assert.Equal(t, []int64{11}, q.deleted)
}

func TestSchedulerDegradedAnalysisWithoutToken(t *testing.T) {
	// First delivery, but the user has no stored tokens: the analyzer
	// degrades immediately instead of retrying.
	repo := reviewableRepo()
	repo.Status = domain.RepoStatusAnalyzing
	store := &fakeStore{repo: repo, settings: &domain.UserSettings{}}
	q := &fakeQueue{messages: []queuedMessage{queuedAnalysis(t, 4, 1)}}
	s := newTestScheduler(q, store)

	s.iterate(t.Context())

	require.Len(t, store.savedAnalyses, 1)
	assert.Nil(t, store.savedAnalyses[0])
	assert.Equal(t, []int64{4}, q.deleted)
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	q := &fakeQueue{}
	s := newTestScheduler(q, &fakeStore{})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
