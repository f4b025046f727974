package port

import (
	"context"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
)

// PRMetadata describes the pull/merge request a diff belongs to.
type PRMetadata struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	BaseBranch string    `json:"base_branch"`
	HeadBranch string    `json:"head_branch"`
	HeadSHA    string    `json:"head_sha"`
	Author     string    `json:"author"`
	Draft      bool      `json:"draft"`
	DiffRefs   *DiffRefs `json:"diff_refs,omitempty"` // GitLab only
}

// DiffRefs is the GitLab (base, start, head) triple identifying a diff position.
type DiffRefs struct {
	BaseSHA  string `json:"base_sha"`
	StartSHA string `json:"start_sha"`
	HeadSHA  string `json:"head_sha"`
}

// File change statuses, normalized across forges.
const (
	FileAdded    = "added"
	FileModified = "modified"
	FileRemoved  = "removed"
	FileRenamed  = "renamed"
)

// FileChange is one changed file in a PR diff.
type FileChange struct {
	Path      string `json:"path"`
	OldPath   string `json:"old_path,omitempty"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// Forge abstracts a hosted git forge (GitHub, GitLab) behind a uniform
// surface: webhook verification and parsing, diff fetching, review posting,
// token probing and refresh.
type Forge interface {
	// Name returns the provider name ("github" or "gitlab").
	Name() string

	// VerifyWebhook checks the forge's webhook authentication value
	// (HMAC signature header for GitHub, plain token header for GitLab)
	// against the shared secret. Comparison is constant-time.
	VerifyWebhook(body []byte, signature, secret string) bool

	// ParseEvent normalizes a raw webhook body into a WebhookEvent.
	// Events with unknown or uninteresting actions return (nil, false).
	ParseEvent(body []byte) (*domain.WebhookEvent, bool)

	// Whoami probes an access token with a lightweight user lookup.
	// A non-2xx response or network error means the token is not usable.
	Whoami(ctx context.Context, token string) error

	// RefreshToken exchanges a refresh token for a new token pair via the
	// provider OAuth token endpoint.
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)

	// FetchDiff returns PR metadata and the list of changed files.
	FetchDiff(ctx context.Context, repoName string, prNumber int, token string) (*PRMetadata, []FileChange, error)

	// PostReview posts the comments to the PR and returns how many were
	// accepted by the forge. Individual rejections are logged and skipped.
	PostReview(ctx context.Context, repoName string, prNumber int, token string, comments []domain.ReviewComment, meta *PRMetadata) (int, error)

	// PostingToken returns the token reviews should be posted with: the
	// configured bot identity when available, else the user token.
	PostingToken(ctx context.Context, repoName, userToken string) string
}

// ForgeRegistry holds Forge implementations keyed by provider name.
type ForgeRegistry map[string]Forge
