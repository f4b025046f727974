package forge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"golang.org/x/time/rate"
)

const (
	githubAPIBase       = "https://api.github.com"
	githubOAuthTokenURL = "https://github.com/login/oauth/access_token"
	githubAPIVersion    = "2022-11-28"
)

// GitHubConfig configures a GitHub adapter. Zero-value URLs fall back to
// the public github.com endpoints.
type GitHubConfig struct {
	ClientID      string
	ClientSecret  string
	APIBaseURL    string
	OAuthTokenURL string

	// Optional GitHub App identity; enables posting reviews as the app.
	AppID         string
	AppPrivateKey string // PEM
}

// GitHub implements port.Forge against the GitHub REST API.
type GitHub struct {
	clientID      string
	clientSecret  string
	apiBase       string
	oauthTokenURL string
	app           *appAuth
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// NewGitHub creates a GitHub forge adapter.
func NewGitHub(cfg GitHubConfig) *GitHub {
	g := &GitHub{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		apiBase:       cfg.APIBaseURL,
		oauthTokenURL: cfg.OAuthTokenURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if g.apiBase == "" {
		g.apiBase = githubAPIBase
	}
	if g.oauthTokenURL == "" {
		g.oauthTokenURL = githubOAuthTokenURL
	}
	if cfg.AppID != "" && cfg.AppPrivateKey != "" {
		app, err := newAppAuth(cfg.AppID, cfg.AppPrivateKey)
		if err != nil {
			slog.Error("github app key unusable, posting as user", "error", err)
		} else {
			g.app = app
		}
	}
	return g
}

// Name returns "github".
func (g *GitHub) Name() string { return domain.ProviderGitHub }

// VerifyWebhook checks the X-Hub-Signature-256 value: an HMAC-SHA256 over
// the raw body, hex-encoded with a "sha256=" prefix. Constant-time.
func (g *GitHub) VerifyWebhook(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ParseEvent normalizes a pull_request webhook payload. Actions outside
// {opened, synchronize, reopened, closed} are skipped.
func (g *GitHub) ParseEvent(body []byte) (*domain.WebhookEvent, bool) {
	var payload struct {
		Action     string `json:"action"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		PullRequest struct {
			Number  int    `json:"number"`
			Title   string `json:"title"`
			HTMLURL string `json:"html_url"`
			Draft   bool   `json:"draft"`
			User    struct {
				Login string `json:"login"`
			} `json:"user"`
			Base struct {
				Ref string `json:"ref"`
			} `json:"base"`
			Head struct {
				Ref string `json:"ref"`
			} `json:"head"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}

	var eventType string
	switch payload.Action {
	case "opened":
		eventType = domain.EventPROpened
	case "synchronize":
		eventType = domain.EventPRUpdated
	case "reopened":
		eventType = domain.EventPRReopened
	case "closed":
		eventType = domain.EventPRClosed
	default:
		return nil, false
	}

	return &domain.WebhookEvent{
		Provider:   domain.ProviderGitHub,
		EventType:  eventType,
		RepoName:   payload.Repository.FullName,
		PRNumber:   payload.PullRequest.Number,
		PRTitle:    payload.PullRequest.Title,
		PRURL:      payload.PullRequest.HTMLURL,
		PRAuthor:   payload.PullRequest.User.Login,
		BaseBranch: payload.PullRequest.Base.Ref,
		HeadBranch: payload.PullRequest.Head.Ref,
		RawAction:  payload.Action,
		ReceivedAt: time.Now().UTC(),
	}, true
}

// Whoami probes the token with GET /user.
func (g *GitHub) Whoami(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/user", nil)
	if err != nil {
		return fmt.Errorf("github: create whoami request: %w", err)
	}
	g.setHeaders(req, token)

	resp, err := g.do(ctx, req)
	if err != nil {
		return fmt.Errorf("github: whoami: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github: whoami failed (%d)", resp.StatusCode)
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new pair at the OAuth token
// endpoint.
func (g *GitHub) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	payload := map[string]string{
		"client_id":     g.clientID,
		"client_secret": g.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.oauthTokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("github: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("github: refresh token: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github: refresh failed (%d): %s", resp.StatusCode, string(raw))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &tokenResp); err != nil {
		return nil, fmt.Errorf("github: decode refresh response: %w", err)
	}
	if tokenResp.Error != "" {
		return nil, fmt.Errorf("github: %s: %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("github: refresh returned no access token")
	}

	return &domain.TokenPair{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
	}, nil
}

// FetchDiff fetches PR metadata and the paged files list concurrently.
func (g *GitHub) FetchDiff(ctx context.Context, repoName string, prNumber int, token string) (*port.PRMetadata, []port.FileChange, error) {
	var (
		wg       sync.WaitGroup
		meta     *port.PRMetadata
		files    []port.FileChange
		metaErr  error
		filesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		meta, metaErr = g.fetchPR(ctx, repoName, prNumber, token)
	}()
	go func() {
		defer wg.Done()
		files, filesErr = g.fetchFiles(ctx, repoName, prNumber, token)
	}()
	wg.Wait()

	if metaErr != nil {
		return nil, nil, metaErr
	}
	if filesErr != nil {
		return nil, nil, filesErr
	}
	return meta, files, nil
}

func (g *GitHub) fetchPR(ctx context.Context, repoName string, prNumber int, token string) (*port.PRMetadata, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", g.apiBase, repoName, prNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create pr request: %w", err)
	}
	g.setHeaders(req, token)

	resp, err := g.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("github: fetch pr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github: fetch pr failed (%d): %s", resp.StatusCode, string(raw))
	}

	var pr struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Draft bool   `json:"draft"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("github: decode pr: %w", err)
	}

	return &port.PRMetadata{
		Title:      pr.Title,
		Body:       pr.Body,
		BaseBranch: pr.Base.Ref,
		HeadBranch: pr.Head.Ref,
		HeadSHA:    pr.Head.SHA,
		Author:     pr.User.Login,
		Draft:      pr.Draft,
	}, nil
}

func (g *GitHub) fetchFiles(ctx context.Context, repoName string, prNumber int, token string) ([]port.FileChange, error) {
	var files []port.FileChange
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=100&page=%d", g.apiBase, repoName, prNumber, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("github: create files request: %w", err)
		}
		g.setHeaders(req, token)

		resp, err := g.do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("github: fetch files: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("github: fetch files failed (%d): %s", resp.StatusCode, string(raw))
		}

		var batch []struct {
			Filename  string `json:"filename"`
			Status    string `json:"status"`
			Additions int    `json:"additions"`
			Deletions int    `json:"deletions"`
			Patch     string `json:"patch"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("github: decode files: %w", err)
		}
		resp.Body.Close()

		for _, f := range batch {
			files = append(files, port.FileChange{
				Path:      f.Filename,
				Status:    f.Status,
				Additions: f.Additions,
				Deletions: f.Deletions,
				Patch:     f.Patch,
			})
		}
		if len(batch) < 100 {
			break
		}
	}
	return files, nil
}

// PostReview attempts one atomic review with all comments pinned to the
// head commit. A 422 (some comment's line is not in the diff) falls back to
// posting each comment as its own single-comment review.
func (g *GitHub) PostReview(ctx context.Context, repoName string, prNumber int, token string, comments []domain.ReviewComment, meta *port.PRMetadata) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}

	headSHA := ""
	if meta != nil {
		headSHA = meta.HeadSHA
	}

	status, err := g.postReviewPayload(ctx, repoName, prNumber, token, headSHA, comments)
	if err != nil {
		return 0, err
	}
	if status < 300 {
		return len(comments), nil
	}
	if status != http.StatusUnprocessableEntity {
		return 0, fmt.Errorf("github: post review failed (%d)", status)
	}

	// Atomic post rejected: at least one comment's line is outside the
	// diff. Post each comment individually and keep the ones that land.
	slog.Warn("atomic review rejected, falling back to per-comment posts", "repo", repoName, "pr", prNumber)
	posted := 0
	for _, c := range comments {
		status, err := g.postReviewPayload(ctx, repoName, prNumber, token, headSHA, []domain.ReviewComment{c})
		if err != nil || status >= 300 {
			slog.Warn("comment rejected", "repo", repoName, "pr", prNumber, "file", c.File, "line", c.Line, "status", status, "error", err)
			continue
		}
		posted++
	}
	return posted, nil
}

func (g *GitHub) postReviewPayload(ctx context.Context, repoName string, prNumber int, token, headSHA string, comments []domain.ReviewComment) (int, error) {
	type ghComment struct {
		Path      string `json:"path"`
		Line      int    `json:"line"`
		Side      string `json:"side"`
		Body      string `json:"body"`
		StartLine int    `json:"start_line,omitempty"`
		StartSide string `json:"start_side,omitempty"`
	}

	ghComments := make([]ghComment, 0, len(comments))
	for _, c := range comments {
		gc := ghComment{
			Path: c.File,
			Line: c.Line,
			Side: "RIGHT",
			Body: FormatComment(c),
		}
		if c.EndLine > c.Line {
			gc.Line = c.EndLine
			gc.StartLine = c.Line
			gc.StartSide = "RIGHT"
		}
		ghComments = append(ghComments, gc)
	}

	payload := map[string]any{
		"event":    "COMMENT",
		"comments": ghComments,
	}
	if headSHA != "" {
		payload["commit_id"] = headSHA
	}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/repos/%s/pulls/%d/reviews", g.apiBase, repoName, prNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("github: create review request: %w", err)
	}
	g.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("github: post review: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// PostingToken prefers a GitHub App installation token when the app
// identity is configured; otherwise reviews post with the user's token.
func (g *GitHub) PostingToken(ctx context.Context, repoName, userToken string) string {
	if g.app == nil {
		return userToken
	}
	token, err := g.installationToken(ctx, repoName)
	if err != nil {
		slog.Warn("installation token unavailable, posting as user", "repo", repoName, "error", err)
		return userToken
	}
	return token
}

// installationToken mints a short-lived installation token: app JWT →
// installation id for the repo → access token.
func (g *GitHub) installationToken(ctx context.Context, repoName string) (string, error) {
	jwt, err := g.app.JWT(time.Now())
	if err != nil {
		return "", fmt.Errorf("github: sign app jwt: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/installation", g.apiBase, repoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("github: create installation request: %w", err)
	}
	g.setHeaders(req, jwt)

	resp, err := g.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("github: fetch installation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github: fetch installation failed (%d)", resp.StatusCode)
	}

	var installation struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&installation); err != nil {
		return "", fmt.Errorf("github: decode installation: %w", err)
	}

	tokURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", g.apiBase, installation.ID)
	tokReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokURL, nil)
	if err != nil {
		return "", fmt.Errorf("github: create access token request: %w", err)
	}
	g.setHeaders(tokReq, jwt)

	tokResp, err := g.do(ctx, tokReq)
	if err != nil {
		return "", fmt.Errorf("github: mint installation token: %w", err)
	}
	defer tokResp.Body.Close()

	if tokResp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("github: mint installation token failed (%d)", tokResp.StatusCode)
	}

	var minted struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(tokResp.Body).Decode(&minted); err != nil {
		return "", fmt.Errorf("github: decode installation token: %w", err)
	}
	return minted.Token, nil
}

func (g *GitHub) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
}

func (g *GitHub) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.httpClient.Do(req)
}
