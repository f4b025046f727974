package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/agent"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/forge"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// Diff admission bounds: reviews are skipped for empty diffs and for PRs
// touching more files than the agent can meaningfully review.
const maxDiffFiles = 100

// When more than this many comments survive truncation, pure suggestions
// are dropped to keep the review focused.
const suggestionDropThreshold = 5

// Dedup window: a fresh comment matching a prior one on file, nearby line,
// and message prefix is considered already flagged.
const (
	dedupLineSlack     = 3
	dedupMessagePrefix = 80
)

// Reviewer executes one review job end to end: admission control, diff
// acquisition, the sandboxed agent run, post-processing, posting, and
// persistence.
type Reviewer struct {
	store   port.Store
	tokens  *TokenService
	forges  port.ForgeRegistry
	sandbox port.Sandbox
	skills  *SkillsCatalog
}

// NewReviewer creates a reviewer.
func NewReviewer(store port.Store, tokens *TokenService, forges port.ForgeRegistry, sandbox port.Sandbox, skills *SkillsCatalog) *Reviewer {
	return &Reviewer{store: store, tokens: tokens, forges: forges, sandbox: sandbox, skills: skills}
}

// Run processes one webhook event. Admission skips return nil so the
// message is consumed; transient failures propagate for redelivery.
func (r *Reviewer) Run(ctx context.Context, event domain.WebhookEvent) error {
	log := slog.With("user_id", event.UserID, "slug", event.RepoSlug, "pr", event.PRNumber)

	fg, ok := r.forges[event.Provider]
	if !ok {
		log.Warn("unknown provider, dropping event", "provider", event.Provider)
		return nil
	}

	// --- Admission control ---

	repo, err := r.store.GetConnectedRepo(ctx, event.UserID, event.RepoSlug)
	if err != nil {
		if errors.Is(err, port.ErrRepoNotFound) {
			log.Warn("repo no longer connected, skipping")
			return nil
		}
		return fmt.Errorf("review repo: %w", err)
	}
	if repo.Status != domain.RepoStatusActive || repo.Persona == nil || strings.TrimSpace(repo.Persona.Content) == "" {
		log.Info("repo not reviewable, skipping", "status", repo.Status)
		return nil
	}

	sub, err := r.store.GetSubscription(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("review subscription: %w", err)
	}
	if sub.Plan != domain.PlanPro {
		if sub.NeedsCounterReset(time.Now().UTC()) {
			if err := r.store.ResetReviewCount(ctx, event.UserID, time.Now().UTC()); err != nil {
				return fmt.Errorf("review counter reset: %w", err)
			}
			sub.ReviewCountMonth = 0
		}
		if sub.ReviewCountMonth >= domain.FreePlanMonthlyReviews {
			log.Info("monthly review limit reached, skipping", "count", sub.ReviewCountMonth)
			return nil
		}
	}

	token, err := r.tokens.GetValid(ctx, event.UserID, event.Provider)
	if err != nil {
		if errors.Is(err, port.ErrUnauthorized) || errors.Is(err, port.ErrSettingsNotFound) {
			log.Warn("no usable token, skipping review")
			return nil
		}
		return fmt.Errorf("review token: %w", err)
	}

	settings, err := r.store.GetUserSettings(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("review settings: %w", err)
	}
	if settings.APIKey == "" {
		log.Warn("no API key, skipping review")
		return nil
	}
	model := settings.NormalizedModel()

	// --- Diff acquisition ---

	meta, files, err := fg.FetchDiff(ctx, event.RepoName, event.PRNumber, token)
	if err != nil {
		return fmt.Errorf("review diff: %w", err)
	}
	if meta.Draft {
		log.Info("draft PR, skipping")
		return nil
	}
	if len(files) == 0 || len(files) > maxDiffFiles {
		log.Info("diff outside reviewable bounds, skipping", "files", len(files))
		return nil
	}
	diff := forge.FormatDiff(files)

	prior, err := r.store.ListPriorComments(ctx, event.UserID, event.RepoSlug, event.PRNumber)
	if err != nil {
		return fmt.Errorf("review prior comments: %w", err)
	}

	// --- Prompt assembly ---

	analysisProfile := ""
	if repo.Analysis != nil {
		analysisProfile = repo.Analysis.Profile
	}
	systemPrompt := buildReviewSystemPrompt(
		repo.Persona.Content,
		analysisProfile,
		r.skills.Prompt(),
		CustomSkillsPrompt(repo.CustomSkills),
	)
	userMessage := buildReviewUserMessage(&event, meta.Body, len(files), prior, diff)

	// --- Sandboxed agent run ---

	comments, err := r.runAgent(ctx, event, token, model, settings.LLMProvider, settings.APIKey, systemPrompt, userMessage)
	if err != nil {
		if errors.Is(err, port.ErrAgentResponseMalformed) || errors.Is(err, port.ErrAgentResponseInvalidShape) {
			// Re-running the same invocation would just burn quota on the
			// same bad output; consume the message.
			log.Error("agent output unusable, dropping review", "error", err)
			return nil
		}
		return err
	}

	// --- Post-processing ---

	if len(comments) > settings.MaxComments {
		comments = comments[:settings.MaxComments]
	}
	if len(comments) > suggestionDropThreshold {
		comments = dropSuggestions(comments)
	}
	comments = dedupeComments(comments, prior)

	// --- Posting ---

	postingToken := fg.PostingToken(ctx, event.RepoName, token)
	posted, err := fg.PostReview(ctx, event.RepoName, event.PRNumber, postingToken, comments, meta)
	if err != nil {
		return fmt.Errorf("review post: %w", err)
	}

	// --- Persistence ---

	review := &domain.Review{
		UserID:       event.UserID,
		RepoSlug:     event.RepoSlug,
		PRNumber:     event.PRNumber,
		PRTitle:      event.PRTitle,
		PRURL:        event.PRURL,
		PRAuthor:     event.PRAuthor,
		Verdict:      "comment",
		Summary:      fmt.Sprintf("%d comments on %d files", len(comments), len(files)),
		CommentCount: len(comments),
		Comments:     comments,
		LLMProvider:  settings.LLMProvider,
		LLMModel:     model,
	}
	if err := r.store.InsertReview(ctx, review); err != nil {
		return fmt.Errorf("review insert: %w", err)
	}

	if sub.Plan != domain.PlanPro {
		if err := r.store.IncrementReviewCount(ctx, event.UserID); err != nil {
			return fmt.Errorf("review counter: %w", err)
		}
	}

	log.Info("review complete", "comments", len(comments), "posted", posted)
	return nil
}

// runAgent clones the PR branch in a sandbox, feeds the prompts to the
// agent CLI, and decodes the comment list.
func (r *Reviewer) runAgent(ctx context.Context, event domain.WebhookEvent, token, model, llmProvider, apiKey, systemPrompt, userMessage string) ([]domain.ReviewComment, error) {
	box, err := r.sandbox.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("review sandbox: %w", err)
	}
	defer box.Stop(context.Background())

	cloneURL := cloneURLFor(event.Provider, event.RepoName, token)
	if _, err := box.Exec(ctx, []string{"git", "clone", "--depth", "50", cloneURL, "/repo"}); err != nil {
		return nil, fmt.Errorf("review clone: %w", err)
	}

	// Best effort: a failed checkout still leaves the default branch for
	// the agent to read, and the diff rides in the prompt regardless.
	fetchRef := fmt.Sprintf("pull/%d/head:pr-review", event.PRNumber)
	branch := "pr-review"
	if event.Provider == domain.ProviderGitLab {
		fetchRef = fmt.Sprintf("merge-requests/%d/head:mr-review", event.PRNumber)
		branch = "mr-review"
	}
	checkout := fmt.Sprintf("cd /repo && git fetch origin %s && git checkout %s", fetchRef, branch)
	if _, err := box.Exec(ctx, []string{"sh", "-c", checkout}); err != nil {
		slog.Warn("PR branch checkout failed, reviewing default branch", "pr", event.PRNumber, "error", err)
	}

	if err := writeAgentInputs(ctx, box, llmProvider, apiKey, map[string]string{
		"/tmp/system-prompt.md": systemPrompt,
		"/tmp/user-message.md":  userMessage,
	}); err != nil {
		return nil, fmt.Errorf("review inputs: %w", err)
	}

	cmd := agent.Command(model, "/tmp/user-message.md", "/tmp/system-prompt.md", "/repo", "/tmp/result.txt")
	if _, err := box.ExecWithTimeout(ctx, cmd, agent.ReviewTimeout); err != nil {
		return nil, fmt.Errorf("review agent: %w", err)
	}

	output, err := box.ReadFile(ctx, "/tmp/result.txt")
	if err != nil {
		return nil, fmt.Errorf("review result: %w", err)
	}

	var result struct {
		Comments *[]domain.ReviewComment `json:"comments"`
	}
	if err := agent.DecodeJSON(agent.ExtractText(output), &result); err != nil {
		return nil, err
	}
	if result.Comments == nil {
		return nil, fmt.Errorf("review agent: %w", port.ErrAgentResponseInvalidShape)
	}
	return *result.Comments, nil
}

// dropSuggestions filters out suggestion-severity comments, preserving
// order.
func dropSuggestions(comments []domain.ReviewComment) []domain.ReviewComment {
	kept := make([]domain.ReviewComment, 0, len(comments))
	for _, c := range comments {
		if c.Severity != domain.SeveritySuggestion {
			kept = append(kept, c)
		}
	}
	return kept
}

// dedupeComments drops fresh comments already flagged by a prior review:
// same file, line within the slack window, and identical lowercased
// message prefix.
func dedupeComments(fresh, prior []domain.ReviewComment) []domain.ReviewComment {
	if len(prior) == 0 {
		return fresh
	}

	kept := make([]domain.ReviewComment, 0, len(fresh))
	for _, c := range fresh {
		duplicate := false
		for _, p := range prior {
			if p.File != c.File {
				continue
			}
			if abs(p.Line-c.Line) > dedupLineSlack {
				continue
			}
			if messagePrefix(p.Message) == messagePrefix(c.Message) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}

func messagePrefix(message string) string {
	if len(message) > dedupMessagePrefix {
		message = message[:dedupMessagePrefix]
	}
	return strings.ToLower(message)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
