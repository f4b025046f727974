package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// Scheduler is the worker poll loop: one iteration drains at most one
// analysis job and one review job, then sleeps. Visibility timeouts give
// failed jobs implicit back-off; multiple scheduler processes can run
// concurrently because the queue leases each message to one reader.
type Scheduler struct {
	queue        port.Queue
	analyzer     *Analyzer
	reviewer     *Reviewer
	pollInterval time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(queue port.Queue, analyzer *Analyzer, reviewer *Reviewer, pollInterval time.Duration) *Scheduler {
	return &Scheduler{queue: queue, analyzer: analyzer, reviewer: reviewer, pollInterval: pollInterval}
}

// Run polls until the context is cancelled. The in-flight iteration always
// finishes; there is no mid-job preemption.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		s.iterate(ctx)

		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context) {
	s.pollAnalysis(ctx)
	s.pollWebhooks(ctx)
}

func (s *Scheduler) pollAnalysis(ctx context.Context) {
	msg, err := s.queue.Read(ctx, port.QueueRepoAnalysis, port.AnalysisVisibility)
	if err != nil {
		slog.Error("analysis queue read failed", "error", err)
		return
	}
	if msg == nil {
		return
	}

	var payload domain.RepoAnalysisPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		slog.Error("undecodable analysis message, dropping", "msg_id", msg.ID, "error", err)
		s.delete(ctx, port.QueueRepoAnalysis, msg.ID)
		return
	}

	if msg.ReadCt > port.MaxReadCount {
		slog.Warn("analysis retries exhausted, giving up", "msg_id", msg.ID, "slug", payload.Slug, "read_ct", msg.ReadCt)
		if err := s.analyzer.GiveUp(ctx, payload); err != nil {
			slog.Error("analysis give-up failed", "slug", payload.Slug, "error", err)
		}
		s.delete(ctx, port.QueueRepoAnalysis, msg.ID)
		return
	}

	if err := s.analyzer.Run(ctx, payload); err != nil {
		// Leave the message; it redelivers once the visibility expires.
		slog.Error("analysis failed", "msg_id", msg.ID, "slug", payload.Slug, "read_ct", msg.ReadCt, "error", err)
		return
	}
	s.delete(ctx, port.QueueRepoAnalysis, msg.ID)
}

func (s *Scheduler) pollWebhooks(ctx context.Context) {
	msg, err := s.queue.Read(ctx, port.QueueWebhookEvents, port.WebhookVisibility)
	if err != nil {
		slog.Error("webhook queue read failed", "error", err)
		return
	}
	if msg == nil {
		return
	}

	if msg.ReadCt > port.MaxReadCount {
		slog.Warn("webhook retries exhausted, dropping", "msg_id", msg.ID, "read_ct", msg.ReadCt)
		s.delete(ctx, port.QueueWebhookEvents, msg.ID)
		return
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		slog.Error("undecodable webhook message, dropping", "msg_id", msg.ID, "error", err)
		s.delete(ctx, port.QueueWebhookEvents, msg.ID)
		return
	}

	switch event.EventType {
	case domain.EventPROpened, domain.EventPRUpdated:
		if err := s.reviewer.Run(ctx, event); err != nil {
			slog.Error("review failed", "msg_id", msg.ID, "slug", event.RepoSlug, "pr", event.PRNumber, "read_ct", msg.ReadCt, "error", err)
			return
		}
	case domain.EventPRClosed, domain.EventPRReopened:
		// Nothing to review; acknowledge below.
	default:
		slog.Warn("unknown event type, dropping", "msg_id", msg.ID, "event_type", event.EventType)
	}
	s.delete(ctx, port.QueueWebhookEvents, msg.ID)
}

func (s *Scheduler) delete(ctx context.Context, queue string, msgID int64) {
	if err := s.queue.Delete(ctx, queue, msgID); err != nil {
		slog.Error("queue delete failed", "queue", queue, "msg_id", msgID, "error", err)
	}
}
