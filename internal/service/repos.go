package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/forge"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// RepoService manages the connected-repo lifecycle: connect (with GitLab
// webhook provisioning), pause/resume, skills, and disconnect.
type RepoService struct {
	store  port.Store
	queue  port.Queue
	tokens *TokenService
	gitlab *forge.GitLab
}

// NewRepoService creates a repo service. gitlab may be nil when the GitLab
// integration is not configured.
func NewRepoService(store port.Store, queue port.Queue, tokens *TokenService, gitlab *forge.GitLab) *RepoService {
	return &RepoService{store: store, queue: queue, tokens: tokens, gitlab: gitlab}
}

// Connect registers a forge repository, provisions its webhook (GitLab
// gets a per-repo hook with a fresh secret; GitHub repos share the app
// hook), and enqueues the initial analysis.
func (s *RepoService) Connect(ctx context.Context, userID, slug, name, provider string) (*domain.ConnectedRepo, error) {
	if provider != domain.ProviderGitHub && provider != domain.ProviderGitLab {
		return nil, fmt.Errorf("connect: unsupported provider %q", provider)
	}

	repo := &domain.ConnectedRepo{
		UserID:   userID,
		Slug:     slug,
		Name:     name,
		Provider: provider,
		Status:   domain.RepoStatusAnalyzing,
	}

	if provider == domain.ProviderGitLab {
		if s.gitlab == nil {
			return nil, fmt.Errorf("connect: gitlab integration not configured")
		}
		token, err := s.tokens.GetValid(ctx, userID, provider)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}

		secret, err := webhookSecret()
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		hookID, err := s.gitlab.CreateWebhook(ctx, name, token, secret)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		repo.WebhookHookID = &hookID
		repo.WebhookSecret = secret

		if err := s.gitlab.InviteBot(ctx, name, token); err != nil {
			slog.Warn("bot invite failed, reviews post as user", "repo", name, "error", err)
		}
	}

	if err := s.store.CreateConnectedRepo(ctx, repo); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	payload := domain.RepoAnalysisPayload{
		UserID:   userID,
		Slug:     slug,
		RepoName: name,
		Provider: provider,
	}
	if _, err := s.queue.Enqueue(ctx, port.QueueRepoAnalysis, payload); err != nil {
		return nil, fmt.Errorf("connect: enqueue analysis: %w", err)
	}

	slog.Info("repo connected", "user_id", userID, "slug", slug, "provider", provider)
	return repo, nil
}

// SetPaused toggles active ↔ paused. Repos still analyzing or in the
// interview cannot be toggled.
func (s *RepoService) SetPaused(ctx context.Context, userID, slug string, paused bool) error {
	repo, err := s.store.GetConnectedRepo(ctx, userID, slug)
	if err != nil {
		return err
	}

	target := domain.RepoStatusActive
	if paused {
		target = domain.RepoStatusPaused
	}
	if repo.Status == target {
		return nil
	}
	if repo.Status != domain.RepoStatusActive && repo.Status != domain.RepoStatusPaused {
		return fmt.Errorf("repo %s is %s, not toggleable", slug, repo.Status)
	}

	return s.store.UpdateRepoStatus(ctx, userID, slug, target)
}

// UpdateCustomSkills replaces the repo's custom skill list, enforcing the
// count and size caps.
func (s *RepoService) UpdateCustomSkills(ctx context.Context, userID, slug string, skills []string) error {
	if len(skills) > domain.MaxCustomSkills {
		return fmt.Errorf("custom skills: at most %d allowed", domain.MaxCustomSkills)
	}
	for i, skill := range skills {
		if len(skill) > domain.MaxCustomSkillLen {
			return fmt.Errorf("custom skills: skill %d exceeds %d characters", i+1, domain.MaxCustomSkillLen)
		}
		if strings.TrimSpace(skill) == "" {
			return fmt.Errorf("custom skills: skill %d is empty", i+1)
		}
	}
	return s.store.UpdateCustomSkills(ctx, userID, slug, skills)
}

// Disconnect deletes the repo row (reviews cascade) and best-effort
// removes the GitLab hook — a dangling hook's deliveries no longer match
// this repo at ingress: they get 401 when other rows for the project remain,
// and 200 with nothing enqueued when none do.
func (s *RepoService) Disconnect(ctx context.Context, userID, slug string) error {
	repo, err := s.store.GetConnectedRepo(ctx, userID, slug)
	if err != nil {
		return err
	}

	if repo.Provider == domain.ProviderGitLab && repo.WebhookHookID != nil && s.gitlab != nil {
		if token, err := s.tokens.GetValid(ctx, userID, repo.Provider); err == nil {
			if err := s.gitlab.DeleteWebhook(ctx, repo.Name, *repo.WebhookHookID, token); err != nil {
				slog.Warn("webhook delete failed", "repo", repo.Name, "hook_id", *repo.WebhookHookID, "error", err)
			}
		}
	}

	return s.store.DeleteConnectedRepo(ctx, userID, slug)
}

// webhookSecret generates the random 256-bit hex secret GitLab hooks are
// created with.
func webhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
