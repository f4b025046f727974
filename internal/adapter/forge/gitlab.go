package forge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"golang.org/x/time/rate"
)

const (
	gitlabAPIBase       = "https://gitlab.com/api/v4"
	gitlabOAuthTokenURL = "https://gitlab.com/oauth/token"
	gitlabPATPrefix     = "glpat-"

	// BotAccessLevel is the GitLab "Developer" role the bot is invited with.
	BotAccessLevel = 30
)

// GitLabConfig configures a GitLab adapter. Zero-value URLs fall back to
// the public gitlab.com endpoints.
type GitLabConfig struct {
	ClientID      string
	ClientSecret  string
	APIBaseURL    string
	OAuthTokenURL string

	// WebhookURL is the public ingress URL registered on project hooks.
	WebhookURL string

	// Optional bot identity: reviews post with BotToken when set, and
	// BotUserID is invited into connected projects.
	BotToken  string
	BotUserID int
}

// GitLab implements port.Forge against the GitLab v4 API.
type GitLab struct {
	clientID      string
	clientSecret  string
	apiBase       string
	oauthTokenURL string
	webhookURL    string
	botToken      string
	botUserID     int
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// NewGitLab creates a GitLab forge adapter.
func NewGitLab(cfg GitLabConfig) *GitLab {
	g := &GitLab{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		apiBase:       cfg.APIBaseURL,
		oauthTokenURL: cfg.OAuthTokenURL,
		webhookURL:    cfg.WebhookURL,
		botToken:      cfg.BotToken,
		botUserID:     cfg.BotUserID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if g.apiBase == "" {
		g.apiBase = gitlabAPIBase
	}
	if g.oauthTokenURL == "" {
		g.oauthTokenURL = gitlabOAuthTokenURL
	}
	return g
}

// Name returns "gitlab".
func (g *GitLab) Name() string { return domain.ProviderGitLab }

// VerifyWebhook compares the X-Gitlab-Token header against the per-repo
// secret. Full constant-time comparison, no length short-circuit.
func (g *GitLab) VerifyWebhook(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(secret))
}

// ParseEvent normalizes a Merge Request Hook payload. Actions outside
// {open, update, reopen, close, merge} are skipped.
func (g *GitLab) ParseEvent(body []byte) (*domain.WebhookEvent, bool) {
	var payload struct {
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		ObjectAttributes struct {
			IID          int    `json:"iid"`
			Title        string `json:"title"`
			URL          string `json:"url"`
			Action       string `json:"action"`
			SourceBranch string `json:"source_branch"`
			TargetBranch string `json:"target_branch"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}

	var eventType string
	switch payload.ObjectAttributes.Action {
	case "open":
		eventType = domain.EventPROpened
	case "update":
		eventType = domain.EventPRUpdated
	case "reopen":
		eventType = domain.EventPRReopened
	case "close", "merge":
		eventType = domain.EventPRClosed
	default:
		return nil, false
	}

	return &domain.WebhookEvent{
		Provider:   domain.ProviderGitLab,
		EventType:  eventType,
		RepoName:   payload.Project.PathWithNamespace,
		PRNumber:   payload.ObjectAttributes.IID,
		PRTitle:    payload.ObjectAttributes.Title,
		PRURL:      payload.ObjectAttributes.URL,
		PRAuthor:   payload.User.Username,
		BaseBranch: payload.ObjectAttributes.TargetBranch,
		HeadBranch: payload.ObjectAttributes.SourceBranch,
		RawAction:  payload.ObjectAttributes.Action,
		ReceivedAt: time.Now().UTC(),
	}, true
}

// Whoami probes the token with GET /user.
func (g *GitLab) Whoami(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/user", nil)
	if err != nil {
		return fmt.Errorf("gitlab: create whoami request: %w", err)
	}
	g.setAuth(req, token)

	resp, err := g.do(ctx, req)
	if err != nil {
		return fmt.Errorf("gitlab: whoami: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gitlab: whoami failed (%d)", resp.StatusCode)
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new pair at the OAuth token
// endpoint.
func (g *GitLab) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	payload := map[string]string{
		"client_id":     g.clientID,
		"client_secret": g.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.oauthTokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("gitlab: refresh token: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gitlab: refresh failed (%d): %s", resp.StatusCode, string(raw))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(raw, &tokenResp); err != nil {
		return nil, fmt.Errorf("gitlab: decode refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("gitlab: refresh returned no access token")
	}

	return &domain.TokenPair{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
	}, nil
}

// FetchDiff fetches the merge request changes in one call.
func (g *GitLab) FetchDiff(ctx context.Context, repoName string, prNumber int, token string) (*port.PRMetadata, []port.FileChange, error) {
	reqURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/changes", g.apiBase, url.PathEscape(repoName), prNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("gitlab: create changes request: %w", err)
	}
	g.setAuth(req, token)

	resp, err := g.do(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("gitlab: fetch changes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("gitlab: fetch changes failed (%d): %s", resp.StatusCode, string(raw))
	}

	var mr struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		Draft        bool   `json:"draft"`
		TargetBranch string `json:"target_branch"`
		SourceBranch string `json:"source_branch"`
		Author       struct {
			Username string `json:"username"`
		} `json:"author"`
		DiffRefs struct {
			BaseSHA  string `json:"base_sha"`
			StartSHA string `json:"start_sha"`
			HeadSHA  string `json:"head_sha"`
		} `json:"diff_refs"`
		Changes []struct {
			OldPath     string `json:"old_path"`
			NewPath     string `json:"new_path"`
			Diff        string `json:"diff"`
			NewFile     bool   `json:"new_file"`
			RenamedFile bool   `json:"renamed_file"`
			DeletedFile bool   `json:"deleted_file"`
		} `json:"changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, nil, fmt.Errorf("gitlab: decode changes: %w", err)
	}

	meta := &port.PRMetadata{
		Title:      mr.Title,
		Body:       mr.Description,
		BaseBranch: mr.TargetBranch,
		HeadBranch: mr.SourceBranch,
		HeadSHA:    mr.DiffRefs.HeadSHA,
		Author:     mr.Author.Username,
		Draft:      mr.Draft,
		DiffRefs: &port.DiffRefs{
			BaseSHA:  mr.DiffRefs.BaseSHA,
			StartSHA: mr.DiffRefs.StartSHA,
			HeadSHA:  mr.DiffRefs.HeadSHA,
		},
	}

	files := make([]port.FileChange, 0, len(mr.Changes))
	for _, ch := range mr.Changes {
		status := port.FileModified
		switch {
		case ch.NewFile:
			status = port.FileAdded
		case ch.DeletedFile:
			status = port.FileRemoved
		case ch.RenamedFile:
			status = port.FileRenamed
		}
		adds, dels := countDiffLines(ch.Diff)
		files = append(files, port.FileChange{
			Path:      ch.NewPath,
			OldPath:   ch.OldPath,
			Status:    status,
			Additions: adds,
			Deletions: dels,
			Patch:     ch.Diff,
		})
	}
	return meta, files, nil
}

// PostReview posts each comment as its own positioned discussion.
// Individual rejections are logged and skipped.
func (g *GitLab) PostReview(ctx context.Context, repoName string, prNumber int, token string, comments []domain.ReviewComment, meta *port.PRMetadata) (int, error) {
	if meta == nil || meta.DiffRefs == nil {
		return 0, fmt.Errorf("gitlab: post review requires diff refs")
	}

	posted := 0
	for _, c := range comments {
		payload := map[string]any{
			"body": FormatComment(c),
			"position": map[string]any{
				"position_type": "text",
				"base_sha":      meta.DiffRefs.BaseSHA,
				"start_sha":     meta.DiffRefs.StartSHA,
				"head_sha":      meta.DiffRefs.HeadSHA,
				"old_path":      c.File,
				"new_path":      c.File,
				"new_line":      c.Line,
			},
		}
		body, _ := json.Marshal(payload)

		reqURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/discussions", g.apiBase, url.PathEscape(repoName), prNumber)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return posted, fmt.Errorf("gitlab: create discussion request: %w", err)
		}
		g.setAuth(req, token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.do(ctx, req)
		if err != nil {
			slog.Warn("discussion post failed", "repo", repoName, "mr", prNumber, "file", c.File, "error", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			slog.Warn("discussion rejected", "repo", repoName, "mr", prNumber, "file", c.File, "line", c.Line, "status", resp.StatusCode)
			continue
		}
		posted++
	}
	return posted, nil
}

// PostingToken prefers the configured bot PAT; otherwise reviews post with
// the user's token.
func (g *GitLab) PostingToken(_ context.Context, _, userToken string) string {
	if g.botToken != "" {
		return g.botToken
	}
	return userToken
}

// CreateWebhook registers a merge-request hook on the project and returns
// its id. The per-repo secret is sent as the hook token.
func (g *GitLab) CreateWebhook(ctx context.Context, projectPath, token, secret string) (int, error) {
	payload := map[string]any{
		"url":                     g.webhookURL,
		"merge_requests_events":   true,
		"note_events":             true,
		"push_events":             false,
		"enable_ssl_verification": true,
		"token":                   secret,
	}
	body, _ := json.Marshal(payload)

	reqURL := fmt.Sprintf("%s/projects/%s/hooks", g.apiBase, url.PathEscape(projectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("gitlab: create hook request: %w", err)
	}
	g.setAuth(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("gitlab: create hook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("gitlab: create hook failed (%d): %s", resp.StatusCode, string(raw))
	}

	var hook struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hook); err != nil {
		return 0, fmt.Errorf("gitlab: decode hook: %w", err)
	}
	return hook.ID, nil
}

// DeleteWebhook removes a project hook. 404 counts as success — the hook is
// gone either way.
func (g *GitLab) DeleteWebhook(ctx context.Context, projectPath string, hookID int, token string) error {
	reqURL := fmt.Sprintf("%s/projects/%s/hooks/%d", g.apiBase, url.PathEscape(projectPath), hookID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("gitlab: create delete hook request: %w", err)
	}
	g.setAuth(req, token)

	resp, err := g.do(ctx, req)
	if err != nil {
		return fmt.Errorf("gitlab: delete hook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("gitlab: delete hook failed (%d)", resp.StatusCode)
	}
	return nil
}

// InviteBot adds the configured bot user to the project as a Developer.
// 409 means already a member and counts as success. No bot user id
// configured means nothing to invite.
func (g *GitLab) InviteBot(ctx context.Context, projectPath, userToken string) error {
	if g.botUserID == 0 {
		return nil
	}

	payload := map[string]any{
		"user_id":      g.botUserID,
		"access_level": BotAccessLevel,
	}
	body, _ := json.Marshal(payload)

	reqURL := fmt.Sprintf("%s/projects/%s/members", g.apiBase, url.PathEscape(projectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gitlab: create invite request: %w", err)
	}
	g.setAuth(req, userToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return fmt.Errorf("gitlab: invite bot: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("gitlab: invite bot failed (%d)", resp.StatusCode)
	}
	return nil
}

// setAuth sends personal access tokens via PRIVATE-TOKEN and OAuth tokens
// via the Authorization header.
func (g *GitLab) setAuth(req *http.Request, token string) {
	if strings.HasPrefix(token, gitlabPATPrefix) {
		req.Header.Set("PRIVATE-TOKEN", token)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func (g *GitLab) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.httpClient.Do(req)
}

// countDiffLines tallies added and removed lines in a unified diff.
func countDiffLines(diff string) (adds, dels int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			adds++
		case strings.HasPrefix(line, "-"):
			dels++
		}
	}
	return adds, dels
}
