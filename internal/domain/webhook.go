package domain

import "time"

// Normalized webhook event types.
const (
	EventPROpened   = "pr_opened"
	EventPRUpdated  = "pr_updated"
	EventPRClosed   = "pr_closed"
	EventPRReopened = "pr_reopened"
)

// WebhookEvent is the normalized form of a forge pull/merge-request event,
// fanned out once per matched connected repo.
type WebhookEvent struct {
	Provider   string    `json:"provider"`
	EventType  string    `json:"event_type"`
	RepoSlug   string    `json:"repo_slug"`
	RepoName   string    `json:"repo_name"`
	PRNumber   int       `json:"pr_number"`
	PRTitle    string    `json:"pr_title"`
	PRURL      string    `json:"pr_url"`
	PRAuthor   string    `json:"pr_author"`
	BaseBranch string    `json:"base_branch"`
	HeadBranch string    `json:"head_branch"`
	RawAction  string    `json:"raw_action"`
	UserID     string    `json:"user_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// RepoAnalysisPayload is the body of a repo_analysis queue message.
type RepoAnalysisPayload struct {
	UserID   string `json:"user_id"`
	Slug     string `json:"slug"`
	RepoName string `json:"repo_name"`
	Provider string `json:"provider"`
}
