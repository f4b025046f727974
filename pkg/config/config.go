package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	Port    string
	AppName string

	// Database
	DatabaseURL string

	// OAuth2 — GitHub
	GitHubClientID     string
	GitHubClientSecret string

	// OAuth2 — GitLab
	GitLabClientID     string
	GitLabClientSecret string

	// Webhooks
	GitHubWebhookSecret string // app-level secret shared by all GitHub hooks
	WebhookBaseURL      string // public base URL registered on the forges

	// GitHub App identity (optional; enables posting reviews as the app)
	GitHubAppID         string
	GitHubAppPrivateKey string // PEM-encoded RSA key

	// GitLab bot identity (optional)
	GitLabBotToken  string // glpat- personal access token
	GitLabBotUserID int    // invited into projects as a member

	// JWT (dashboard API sessions)
	JWTSecret     string
	JWTIssuer     string
	JWTExpiration int // hours

	// LLM defaults
	DefaultLLMProvider string
	DefaultLLMModel    string

	// Worker
	PollIntervalMS int
	SandboxImage   string

	// Skills catalog
	SkillsDir string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envOrDefault("PORT", "3001"),
		AppName: envOrDefault("APP_NAME", "PR Sentinel"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),

		GitLabClientID:     os.Getenv("GITLAB_CLIENT_ID"),
		GitLabClientSecret: os.Getenv("GITLAB_CLIENT_SECRET"),

		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		WebhookBaseURL:      envOrDefault("WEBHOOK_BASE_URL", "http://localhost:3001"),

		GitHubAppID:         os.Getenv("GITHUB_APP_ID"),
		GitHubAppPrivateKey: os.Getenv("GITHUB_APP_PRIVATE_KEY"),

		GitLabBotToken:  os.Getenv("GITLAB_BOT_TOKEN"),
		GitLabBotUserID: envOrDefaultInt("GITLAB_BOT_USER_ID", 0),

		JWTSecret:     envOrDefault("JWT_SECRET", "change-me-in-production"),
		JWTIssuer:     envOrDefault("JWT_ISSUER", "pr-sentinel"),
		JWTExpiration: envOrDefaultInt("JWT_EXPIRATION_HOURS", 24),

		DefaultLLMProvider: envOrDefault("LLM_PROVIDER", "anthropic"),
		DefaultLLMModel:    envOrDefault("LLM_MODEL", "claude-sonnet-4-20250514"),

		PollIntervalMS: envOrDefaultInt("POLL_INTERVAL_MS", 5000),
		SandboxImage:   envOrDefault("SANDBOX_IMAGE", "pr-sentinel-sandbox:latest"),

		SkillsDir: envOrDefault("SKILLS_DIR", "./skills"),
	}
}

// Validate reports the required variables that are missing. The server and
// worker refuse to start (exit 1) when it returns an error.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.GitHubWebhookSecret == "" {
		missing = append(missing, "GITHUB_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
