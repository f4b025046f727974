package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/agent"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// Analyzer runs the one-shot repository analysis that seeds the interview.
type Analyzer struct {
	store   port.Store
	tokens  *TokenService
	sandbox port.Sandbox
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(store port.Store, tokens *TokenService, sandbox port.Sandbox) *Analyzer {
	return &Analyzer{store: store, tokens: tokens, sandbox: sandbox}
}

// Run clones the repository in a sandbox, runs the analysis prompt through
// the agent CLI, and stores the resulting profile. Missing credentials
// degrade to an empty profile so the interview can still proceed with
// broader questions; execution failures propagate for redelivery.
func (a *Analyzer) Run(ctx context.Context, payload domain.RepoAnalysisPayload) error {
	slog.Info("analysis started", "user_id", payload.UserID, "slug", payload.Slug, "repo", payload.RepoName)

	token, err := a.tokens.GetValid(ctx, payload.UserID, payload.Provider)
	if err != nil {
		if errors.Is(err, port.ErrUnauthorized) || errors.Is(err, port.ErrSettingsNotFound) {
			slog.Warn("no usable token, skipping analysis", "user_id", payload.UserID, "slug", payload.Slug)
			return a.GiveUp(ctx, payload)
		}
		return fmt.Errorf("analysis token: %w", err)
	}

	settings, err := a.store.GetUserSettings(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("analysis settings: %w", err)
	}
	if settings.APIKey == "" {
		slog.Warn("no API key, skipping analysis", "user_id", payload.UserID, "slug", payload.Slug)
		return a.GiveUp(ctx, payload)
	}
	model := settings.NormalizedModel()

	box, err := a.sandbox.Start(ctx)
	if err != nil {
		return fmt.Errorf("analysis sandbox: %w", err)
	}
	defer box.Stop(context.Background())

	cloneURL := cloneURLFor(payload.Provider, payload.RepoName, token)
	if _, err := box.Exec(ctx, []string{"git", "clone", "--depth", "1", cloneURL, "/repo"}); err != nil {
		return fmt.Errorf("analysis clone: %w", err)
	}

	if err := writeAgentInputs(ctx, box, settings.LLMProvider, settings.APIKey, map[string]string{
		"/tmp/prompt.txt": analysisSystemPrompt,
	}); err != nil {
		return fmt.Errorf("analysis inputs: %w", err)
	}

	cmd := agent.Command(model, "/tmp/prompt.txt", "", "/repo", "/tmp/result.txt")
	if _, err := box.ExecWithTimeout(ctx, cmd, agent.AnalyzeTimeout); err != nil {
		return fmt.Errorf("analysis agent: %w", err)
	}

	output, err := box.ReadFile(ctx, "/tmp/result.txt")
	if err != nil {
		return fmt.Errorf("analysis result: %w", err)
	}

	profile := strings.TrimSpace(agent.ExtractText(output))
	if profile == "" {
		return fmt.Errorf("analysis agent: %w", port.ErrAgentResponseMalformed)
	}

	analysis := &domain.Analysis{
		Profile:    profile,
		Provider:   settings.LLMProvider,
		Model:      model,
		AnalyzedAt: time.Now().UTC(),
	}
	if err := a.store.SaveAnalysis(ctx, payload.UserID, payload.Slug, analysis); err != nil {
		return fmt.Errorf("analysis save: %w", err)
	}

	slog.Info("analysis complete", "user_id", payload.UserID, "slug", payload.Slug, "profile_chars", len(profile))
	return nil
}

// GiveUp advances the repo to the interview stage without a profile so the
// user is never stuck on a permanently failing analysis.
func (a *Analyzer) GiveUp(ctx context.Context, payload domain.RepoAnalysisPayload) error {
	return a.store.SaveAnalysis(ctx, payload.UserID, payload.Slug, nil)
}

// cloneURLFor builds a basic-auth clone URL; the username is the per-forge
// token-auth convention, not a real account.
func cloneURLFor(provider, repoName, token string) string {
	if provider == domain.ProviderGitLab {
		return fmt.Sprintf("https://oauth2:%s@gitlab.com/%s.git", token, repoName)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repoName)
}

// writeAgentInputs provisions the agent credentials plus any prompt files
// inside a sandbox.
func writeAgentInputs(ctx context.Context, box port.Container, provider, apiKey string, files map[string]string) error {
	auth, err := agent.AuthFile(provider, apiKey)
	if err != nil {
		return err
	}

	authDir := agent.AuthFilePath[:strings.LastIndex(agent.AuthFilePath, "/")]
	if _, err := box.Exec(ctx, []string{"mkdir", "-p", authDir}); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	if err := box.WriteFile(ctx, agent.AuthFilePath, auth); err != nil {
		return err
	}

	for path, content := range files {
		if err := box.WriteFile(ctx, path, content); err != nil {
			return err
		}
	}
	return nil
}
