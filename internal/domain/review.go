package domain

import "time"

// ReviewComment is a single inline comment produced by the review agent.
type ReviewComment struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	EndLine    int    `json:"endLine,omitempty"` // >= Line when present
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Comment severities.
const (
	SeverityCritical   = "critical"
	SeverityWarning    = "warning"
	SeveritySuggestion = "suggestion"
)

// Review is the append-only record of one completed review of one PR.
// Rows are never updated after insert; CommentCount == len(Comments).
type Review struct {
	ID           string          `json:"id"            db:"id"`
	UserID       string          `json:"user_id"       db:"user_id"`
	RepoSlug     string          `json:"repo_slug"     db:"repo_slug"`
	PRNumber     int             `json:"pr_number"     db:"pr_number"`
	PRTitle      string          `json:"pr_title"      db:"pr_title"`
	PRURL        string          `json:"pr_url"        db:"pr_url"`
	PRAuthor     string          `json:"pr_author"     db:"pr_author"`
	Verdict      string          `json:"verdict"       db:"verdict"`
	Summary      string          `json:"summary"       db:"summary"`
	CommentCount int             `json:"comment_count" db:"comment_count"`
	Comments     []ReviewComment `json:"comments"      db:"comments"`
	LLMProvider  string          `json:"llm_provider"  db:"llm_provider"`
	LLMModel     string          `json:"llm_model"     db:"llm_model"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
}
