package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/forge"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appSecret = "app-level-secret"

// fakeStore implements only the lookup the ingress needs; anything else
// would be a bug in the handler.
type fakeStore struct {
	port.Store
	repos []domain.ConnectedRepo
}

func (f *fakeStore) ListConnectedReposByName(_ context.Context, provider, name string) ([]domain.ConnectedRepo, error) {
	var matched []domain.ConnectedRepo
	for _, r := range f.repos {
		if r.Provider == provider && r.Name == name {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

type fakeQueue struct {
	events []domain.WebhookEvent
	fail   bool
}

func (q *fakeQueue) Enqueue(_ context.Context, _ string, body any) (int64, error) {
	if q.fail {
		return 0, port.ErrQueueUnavailable
	}
	q.events = append(q.events, body.(domain.WebhookEvent))
	return int64(len(q.events)), nil
}

func (q *fakeQueue) Read(_ context.Context, _ string, _ time.Duration) (*port.QueueMessage, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(_ context.Context, _ string, _ int64) error { return nil }

func newTestApp(store *fakeStore, queue *fakeQueue) *fiber.App {
	forges := port.ForgeRegistry{
		domain.ProviderGitHub: forge.NewGitHub(forge.GitHubConfig{}),
		domain.ProviderGitLab: forge.NewGitLab(forge.GitLabConfig{}),
	}

	app := fiber.New()
	NewWebhookHandler(store, queue, forges, appSecret).Register(app)
	return app
}

func githubRequest(t *testing.T, body []byte, event, signature string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", signature)
	return req
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func githubPayload(t *testing.T, action string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"action":     action,
		"repository": map[string]any{"full_name": "acme/api"},
		"pull_request": map[string]any{
			"number": 42, "title": "Add endpoint", "draft": false,
			"html_url": "https://github.com/acme/api/pull/42",
			"user":     map[string]any{"login": "alice"},
			"base":     map[string]any{"ref": "main"},
			"head":     map[string]any{"ref": "feature"},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestWebhookGitHubFanOut(t *testing.T) {
	store := &fakeStore{repos: []domain.ConnectedRepo{
		{UserID: "u1", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitHub, Status: domain.RepoStatusActive},
		{UserID: "u2", Slug: "acme-api", Name: "acme/api", Provider: domain.ProviderGitHub, Status: domain.RepoStatusPaused},
		{UserID: "u3", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitHub, Status: domain.RepoStatusActive},
	}}
	queue := &fakeQueue{}
	app := newTestApp(store, queue)

	body := githubPayload(t, "opened")
	resp, err := app.Test(githubRequest(t, body, "pull_request", signBody(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// One event per matched non-paused row, each addressed to its owner.
	require.Len(t, queue.events, 2)
	assert.Equal(t, "u1", queue.events[0].UserID)
	assert.Equal(t, "u3", queue.events[1].UserID)
	assert.Equal(t, domain.EventPROpened, queue.events[0].EventType)
	assert.Equal(t, 42, queue.events[0].PRNumber)
}

func TestWebhookGitHubBadSignature(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	app := newTestApp(store, queue)

	body := githubPayload(t, "opened")
	resp, err := app.Test(githubRequest(t, body, "pull_request", "sha256=deadbeef"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, queue.events)
}

func TestWebhookGitHubUninterestingEvent(t *testing.T) {
	queue := &fakeQueue{}
	app := newTestApp(&fakeStore{}, queue)

	body := []byte(`{"zen":"Keep it logically awesome."}`)
	resp, err := app.Test(githubRequest(t, body, "ping", signBody(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, queue.events)
}

func TestWebhookGitHubSkippedAction(t *testing.T) {
	queue := &fakeQueue{}
	app := newTestApp(&fakeStore{}, queue)

	body := githubPayload(t, "labeled")
	resp, err := app.Test(githubRequest(t, body, "pull_request", signBody(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, queue.events)
}

func TestWebhookGitHubMalformedBody(t *testing.T) {
	queue := &fakeQueue{}
	app := newTestApp(&fakeStore{}, queue)

	body := []byte("{truncated")
	resp, err := app.Test(githubRequest(t, body, "pull_request", signBody(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookGitHubEnqueueFailure(t *testing.T) {
	store := &fakeStore{repos: []domain.ConnectedRepo{
		{UserID: "u1", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitHub, Status: domain.RepoStatusActive},
	}}
	queue := &fakeQueue{fail: true}
	app := newTestApp(store, queue)

	body := githubPayload(t, "opened")
	resp, err := app.Test(githubRequest(t, body, "pull_request", signBody(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func gitlabPayload(t *testing.T, action string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"project": map[string]any{"path_with_namespace": "acme/api"},
		"user":    map[string]any{"username": "alice"},
		"object_attributes": map[string]any{
			"iid": 7, "title": "Fix parser", "action": action,
			"url":           "https://gitlab.com/acme/api/-/merge_requests/7",
			"source_branch": "fix", "target_branch": "main",
		},
	})
	require.NoError(t, err)
	return raw
}

func gitlabRequest(t *testing.T, body []byte, token string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	req.Header.Set("X-Gitlab-Token", token)
	return req
}

func TestWebhookGitLabPerRowSecrets(t *testing.T) {
	store := &fakeStore{repos: []domain.ConnectedRepo{
		{UserID: "u1", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitLab, Status: domain.RepoStatusActive, WebhookSecret: "secret-one"},
		{UserID: "u2", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitLab, Status: domain.RepoStatusActive, WebhookSecret: "secret-two"},
		{UserID: "u3", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitLab, Status: domain.RepoStatusActive},
	}}
	queue := &fakeQueue{}
	app := newTestApp(store, queue)

	// Only the row whose secret matches the delivery token gets an event;
	// the secretless row is skipped, not matched.
	resp, err := app.Test(gitlabRequest(t, gitlabPayload(t, "open"), "secret-two"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, queue.events, 1)
	assert.Equal(t, "u2", queue.events[0].UserID)
}

func TestWebhookGitLabWrongToken(t *testing.T) {
	store := &fakeStore{repos: []domain.ConnectedRepo{
		{UserID: "u1", Slug: "api", Name: "acme/api", Provider: domain.ProviderGitLab, Status: domain.RepoStatusActive, WebhookSecret: "real-secret"},
	}}
	queue := &fakeQueue{}
	app := newTestApp(store, queue)

	resp, err := app.Test(gitlabRequest(t, gitlabPayload(t, "open"), "guessed"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, queue.events)
}

func TestWebhookGitLabNoConnectedRepos(t *testing.T) {
	queue := &fakeQueue{}
	app := newTestApp(&fakeStore{}, queue)

	// Nothing connected: nothing to verify against, and the forge should
	// not retry.
	resp, err := app.Test(gitlabRequest(t, gitlabPayload(t, "open"), "whatever"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, queue.events)
}

func TestWebhookRejectsNonPost(t *testing.T) {
	app := newTestApp(&fakeStore{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebhookUnknownSource(t *testing.T) {
	app := newTestApp(&fakeStore{}, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader([]byte("{}")))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
