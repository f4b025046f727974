package domain

import "time"

// ConnectedRepo represents a forge repository connected for automated review.
type ConnectedRepo struct {
	UserID        string    `json:"user_id"       db:"user_id"`
	Slug          string    `json:"slug"          db:"slug"`
	Name          string    `json:"name"          db:"name"` // owner/name on the forge
	Provider      string    `json:"provider"      db:"provider"`
	Status        string    `json:"status"        db:"status"`
	ConnectedAt   time.Time `json:"connected_at"  db:"connected_at"`
	Analysis      *Analysis `json:"analysis_data" db:"analysis_data"`
	Persona       *Persona  `json:"persona_data"  db:"persona_data"`
	CustomSkills  []string  `json:"custom_skills" db:"custom_skills"`
	WebhookHookID *int      `json:"-"             db:"webhook_hook_id"`
	WebhookSecret string    `json:"-"             db:"webhook_secret"` // GitLab only
}

// Repo status constants. Status only ever advances
// analyzing → interview → active, with active ↔ paused toggles.
const (
	RepoStatusAnalyzing = "analyzing"
	RepoStatusInterview = "interview"
	RepoStatusActive    = "active"
	RepoStatusPaused    = "paused"
)

// Providers supported by the pipeline.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Custom skill bounds.
const (
	MaxCustomSkills   = 5
	MaxCustomSkillLen = 2000
)

// Analysis is the stored output of a repository analysis run.
type Analysis struct {
	Profile    string    `json:"profile"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Persona is the stored review persona produced by the interview.
type Persona struct {
	Content string `json:"content"`
	Edited  bool   `json:"edited,omitempty"`
}
