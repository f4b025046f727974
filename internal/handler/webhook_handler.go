package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/gofiber/fiber/v3"
)

// WebhookHandler is the forge ingress: it verifies deliveries, normalizes
// them, and fans one event per matched connected repo into the queue.
type WebhookHandler struct {
	store  port.Store
	queue  port.Queue
	forges port.ForgeRegistry

	// githubSecret is the app-level secret shared by all GitHub hooks;
	// GitLab secrets live per repo row.
	githubSecret string
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(store port.Store, queue port.Queue, forges port.ForgeRegistry, githubSecret string) *WebhookHandler {
	return &WebhookHandler{store: store, queue: queue, forges: forges, githubSecret: githubSecret}
}

// Register sets up the ingress route. Fiber answers non-POST methods on
// the path with 405.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks", h.Receive)
}

// Receive handles one webhook delivery. 200 covers accepted, skipped, and
// empty-match outcomes the forge should not retry; 401 is an
// authentication failure, 400 a malformed body, 500 an enqueue failure.
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	body := c.Body()

	switch {
	case c.Get("X-GitHub-Event") != "":
		return h.receiveGitHub(c, body)
	case c.Get("X-Gitlab-Event") != "":
		return h.receiveGitLab(c, body)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown webhook source"})
	}
}

func (h *WebhookHandler) receiveGitHub(c fiber.Ctx, body []byte) error {
	if c.Get("X-GitHub-Event") != "pull_request" {
		return c.JSON(fiber.Map{"skipped": true})
	}

	fg := h.forges[domain.ProviderGitHub]

	// Signature first — the payload is untrusted until the HMAC checks out.
	if !fg.VerifyWebhook(body, c.Get("X-Hub-Signature-256"), h.githubSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	if !json.Valid(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payload"})
	}
	event, ok := fg.ParseEvent(body)
	if !ok {
		return c.JSON(fiber.Map{"skipped": true})
	}

	repos, err := h.store.ListConnectedReposByName(c.Context(), domain.ProviderGitHub, event.RepoName)
	if err != nil {
		slog.Error("webhook repo lookup failed", "repo", event.RepoName, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	return h.fanOut(c, event, repos)
}

func (h *WebhookHandler) receiveGitLab(c fiber.Ctx, body []byte) error {
	if c.Get("X-Gitlab-Event") != "Merge Request Hook" {
		return c.JSON(fiber.Map{"skipped": true})
	}

	fg := h.forges[domain.ProviderGitLab]

	if !json.Valid(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payload"})
	}

	// The token lives in a header but the matching secret is per repo row,
	// so the body is parsed first to find the project.
	event, ok := fg.ParseEvent(body)
	if !ok {
		return c.JSON(fiber.Map{"skipped": true})
	}

	repos, err := h.store.ListConnectedReposByName(c.Context(), domain.ProviderGitLab, event.RepoName)
	if err != nil {
		slog.Error("webhook repo lookup failed", "repo", event.RepoName, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	token := c.Get("X-Gitlab-Token")
	var matched []domain.ConnectedRepo
	for _, repo := range repos {
		if repo.WebhookSecret == "" {
			continue
		}
		if fg.VerifyWebhook(body, token, repo.WebhookSecret) {
			matched = append(matched, repo)
		}
	}
	if len(repos) > 0 && len(matched) == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	return h.fanOut(c, event, matched)
}

// fanOut enqueues one copy of the event per matched, non-paused repo.
// Duplicates across users are intentional — each user gets their own
// review.
func (h *WebhookHandler) fanOut(c fiber.Ctx, event *domain.WebhookEvent, repos []domain.ConnectedRepo) error {
	enqueued := 0
	for _, repo := range repos {
		if repo.Status == domain.RepoStatusPaused {
			continue
		}

		evt := *event
		evt.UserID = repo.UserID
		evt.RepoSlug = repo.Slug

		if _, err := h.queue.Enqueue(context.WithoutCancel(c.Context()), port.QueueWebhookEvents, evt); err != nil {
			slog.Error("webhook enqueue failed", "repo", event.RepoName, "user_id", repo.UserID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue failed"})
		}
		enqueued++
	}

	slog.Info("webhook accepted", "provider", event.Provider, "repo", event.RepoName,
		"pr", event.PRNumber, "action", event.RawAction, "enqueued", enqueued)
	return c.JSON(fiber.Map{"enqueued": enqueued})
}
