package domain

import "strings"

// UserSettings holds per-user provider tokens and LLM preferences.
// Tokens are owned per-user, not per-repo.
type UserSettings struct {
	UserID             string `json:"user_id"              db:"user_id"`
	GitHubToken        string `json:"-"                    db:"github_token"`
	GitHubRefreshToken string `json:"-"                    db:"github_refresh_token"`
	GitLabToken        string `json:"-"                    db:"gitlab_token"`
	GitLabRefreshToken string `json:"-"                    db:"gitlab_refresh_token"`
	LLMProvider        string `json:"llm_provider"         db:"provider"`
	LLMModel           string `json:"llm_model"            db:"model"` // provider/model form
	APIKey             string `json:"-"                    db:"api_key"`
	MaxComments        int    `json:"max_comments"         db:"max_comments"`
}

// Bounds for MaxComments; DefaultMaxComments applies when unset.
const (
	MinMaxComments     = 1
	MaxMaxComments     = 50
	DefaultMaxComments = 10
)

// NormalizedModel returns the model in provider/model form, prefixing the
// configured provider for legacy values stored without a slash.
func (s *UserSettings) NormalizedModel() string {
	if strings.Contains(s.LLMModel, "/") {
		return s.LLMModel
	}
	return s.LLMProvider + "/" + s.LLMModel
}

// TokensFor returns the (access, refresh) pair for a provider.
func (s *UserSettings) TokensFor(provider string) (string, string) {
	if provider == ProviderGitLab {
		return s.GitLabToken, s.GitLabRefreshToken
	}
	return s.GitHubToken, s.GitHubRefreshToken
}

// TokenPair holds the OAuth2 tokens returned by a provider token endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}
