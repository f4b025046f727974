package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- User settings ---

// GetUserSettings retrieves a user's settings row.
func (s *PostgresStore) GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	query := `SELECT user_id, COALESCE(github_token, ''), COALESCE(github_refresh_token, ''),
	                 COALESCE(gitlab_token, ''), COALESCE(gitlab_refresh_token, ''),
	                 COALESCE(provider, ''), COALESCE(model, ''), COALESCE(api_key, ''), max_comments
	          FROM user_settings WHERE user_id = $1`

	var us domain.UserSettings
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&us.UserID, &us.GitHubToken, &us.GitHubRefreshToken,
		&us.GitLabToken, &us.GitLabRefreshToken,
		&us.LLMProvider, &us.LLMModel, &us.APIKey, &us.MaxComments,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user settings: %w", err)
	}
	if us.MaxComments == 0 {
		us.MaxComments = domain.DefaultMaxComments
	}
	return &us, nil
}

// UpdateUserSettings upserts the LLM preferences and comment cap.
func (s *PostgresStore) UpdateUserSettings(ctx context.Context, us *domain.UserSettings) error {
	query := `
		INSERT INTO user_settings (user_id, provider, model, api_key, max_comments)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			api_key = EXCLUDED.api_key,
			max_comments = EXCLUDED.max_comments`

	_, err := s.db.ExecContext(ctx, query, us.UserID, us.LLMProvider, us.LLMModel, us.APIKey, us.MaxComments)
	if err != nil {
		return fmt.Errorf("update user settings: %w", err)
	}
	return nil
}

// SaveProviderTokens upserts both token columns for a provider. The full
// pair is always written so a stale refresh token can never linger.
func (s *PostgresStore) SaveProviderTokens(ctx context.Context, userID, provider, access, refresh string) error {
	accessCol, refreshCol := "github_token", "github_refresh_token"
	if provider == domain.ProviderGitLab {
		accessCol, refreshCol = "gitlab_token", "gitlab_refresh_token"
	}

	query := fmt.Sprintf(`
		INSERT INTO user_settings (user_id, %s, %s)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			%s = EXCLUDED.%s,
			%s = EXCLUDED.%s`,
		accessCol, refreshCol, accessCol, accessCol, refreshCol, refreshCol)

	_, err := s.db.ExecContext(ctx, query, userID, access, refresh)
	if err != nil {
		return fmt.Errorf("save provider tokens: %w", err)
	}
	return nil
}

// --- Connected repos ---

const repoColumns = `user_id, slug, name, provider, status, connected_at,
	COALESCE(analysis_data::text, ''), COALESCE(persona_data::text, ''),
	COALESCE(custom_skills::text, '[]'), webhook_hook_id, COALESCE(webhook_secret, '')`

// CreateConnectedRepo inserts a new connected repository row.
func (s *PostgresStore) CreateConnectedRepo(ctx context.Context, r *domain.ConnectedRepo) error {
	skills, err := json.Marshal(r.CustomSkills)
	if err != nil {
		return fmt.Errorf("marshal custom skills: %w", err)
	}
	if r.CustomSkills == nil {
		skills = []byte("[]")
	}

	query := `INSERT INTO connected_repositories
	          (user_id, slug, name, provider, status, webhook_hook_id, webhook_secret, custom_skills)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)`

	_, err = s.db.ExecContext(ctx, query,
		r.UserID, r.Slug, r.Name, r.Provider, r.Status, r.WebhookHookID, r.WebhookSecret, string(skills),
	)
	if err != nil {
		return fmt.Errorf("create connected repo: %w", err)
	}
	return nil
}

// GetConnectedRepo returns one repo row by its (user, slug) key.
func (s *PostgresStore) GetConnectedRepo(ctx context.Context, userID, slug string) (*domain.ConnectedRepo, error) {
	query := `SELECT ` + repoColumns + ` FROM connected_repositories WHERE user_id = $1 AND slug = $2`

	r, err := scanRepo(s.db.QueryRowContext(ctx, query, userID, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connected repo: %w", err)
	}
	return r, nil
}

// ListConnectedRepos returns all repos for a user, newest first.
func (s *PostgresStore) ListConnectedRepos(ctx context.Context, userID string) ([]domain.ConnectedRepo, error) {
	query := `SELECT ` + repoColumns + ` FROM connected_repositories
	          WHERE user_id = $1 ORDER BY connected_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list connected repos: %w", err)
	}
	defer rows.Close()

	return collectRepos(rows)
}

// ListConnectedReposByName returns every user's row for a forge repo full
// name, regardless of status.
func (s *PostgresStore) ListConnectedReposByName(ctx context.Context, provider, name string) ([]domain.ConnectedRepo, error) {
	query := `SELECT ` + repoColumns + ` FROM connected_repositories
	          WHERE provider = $1 AND name = $2`

	rows, err := s.db.QueryContext(ctx, query, provider, name)
	if err != nil {
		return nil, fmt.Errorf("list connected repos by name: %w", err)
	}
	defer rows.Close()

	return collectRepos(rows)
}

// UpdateRepoStatus updates a repo's lifecycle status.
func (s *PostgresStore) UpdateRepoStatus(ctx context.Context, userID, slug, status string) error {
	query := `UPDATE connected_repositories SET status = $1 WHERE user_id = $2 AND slug = $3`
	_, err := s.db.ExecContext(ctx, query, status, userID, slug)
	if err != nil {
		return fmt.Errorf("update repo status: %w", err)
	}
	return nil
}

// SaveAnalysis stores the analysis output and advances the repo to the
// interview stage. A nil analysis still advances the status so a failed
// analysis never leaves the user stuck.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, userID, slug string, a *domain.Analysis) error {
	var data any
	if a != nil {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal analysis: %w", err)
		}
		data = string(raw)
	}

	query := `UPDATE connected_repositories
	          SET analysis_data = $1::jsonb, status = $2
	          WHERE user_id = $3 AND slug = $4`
	_, err := s.db.ExecContext(ctx, query, data, domain.RepoStatusInterview, userID, slug)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// SavePersona stores the interview persona and activates the repo.
func (s *PostgresStore) SavePersona(ctx context.Context, userID, slug string, p *domain.Persona) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}

	query := `UPDATE connected_repositories
	          SET persona_data = $1::jsonb, status = $2
	          WHERE user_id = $3 AND slug = $4`
	_, err = s.db.ExecContext(ctx, query, string(raw), domain.RepoStatusActive, userID, slug)
	if err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}

// UpdateCustomSkills replaces a repo's custom skill list.
func (s *PostgresStore) UpdateCustomSkills(ctx context.Context, userID, slug string, skills []string) error {
	if skills == nil {
		skills = []string{}
	}
	raw, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("marshal custom skills: %w", err)
	}

	query := `UPDATE connected_repositories SET custom_skills = $1::jsonb WHERE user_id = $2 AND slug = $3`
	_, err = s.db.ExecContext(ctx, query, string(raw), userID, slug)
	if err != nil {
		return fmt.Errorf("update custom skills: %w", err)
	}
	return nil
}

// DeleteConnectedRepo removes a repo row and its reviews.
func (s *PostgresStore) DeleteConnectedRepo(ctx context.Context, userID, slug string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete connected repo: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE user_id = $1 AND repo_slug = $2`, userID, slug); err != nil {
		return fmt.Errorf("delete reviews: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM connected_repositories WHERE user_id = $1 AND slug = $2`, userID, slug); err != nil {
		return fmt.Errorf("delete connected repo: %w", err)
	}
	return tx.Commit()
}

// --- Reviews ---

// InsertReview appends one completed review. Rows are immutable after
// insert; CommentCount records the surviving LLM comments, not the count
// the forge accepted.
func (s *PostgresStore) InsertReview(ctx context.Context, r *domain.Review) error {
	comments, err := json.Marshal(r.Comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	if r.Comments == nil {
		comments = []byte("[]")
	}

	query := `INSERT INTO reviews
	          (user_id, repo_slug, pr_number, pr_title, pr_url, pr_author,
	           verdict, summary, comment_count, comments, llm_provider, llm_model)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)`

	_, err = s.db.ExecContext(ctx, query,
		r.UserID, r.RepoSlug, r.PRNumber, r.PRTitle, r.PRURL, r.PRAuthor,
		r.Verdict, r.Summary, len(r.Comments), string(comments), r.LLMProvider, r.LLMModel,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews returns all reviews for a repo, newest first.
func (s *PostgresStore) ListReviews(ctx context.Context, userID, slug string) ([]domain.Review, error) {
	query := `SELECT id, user_id, repo_slug, pr_number, pr_title, pr_url, pr_author,
	                 verdict, COALESCE(summary, ''), comment_count, COALESCE(comments::text, '[]'),
	                 COALESCE(llm_provider, ''), COALESCE(llm_model, ''), created_at
	          FROM reviews WHERE user_id = $1 AND repo_slug = $2
	          ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, slug)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var r domain.Review
		var comments string
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.RepoSlug, &r.PRNumber, &r.PRTitle, &r.PRURL, &r.PRAuthor,
			&r.Verdict, &r.Summary, &r.CommentCount, &comments,
			&r.LLMProvider, &r.LLMModel, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if err := json.Unmarshal([]byte(comments), &r.Comments); err != nil {
			return nil, fmt.Errorf("decode review comments: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, nil
}

// ListPriorComments flattens the comments of all prior reviews of a PR,
// newest review first. The reviewer dedups fresh findings against them.
func (s *PostgresStore) ListPriorComments(ctx context.Context, userID, slug string, prNumber int) ([]domain.ReviewComment, error) {
	query := `SELECT COALESCE(comments::text, '[]')
	          FROM reviews
	          WHERE user_id = $1 AND repo_slug = $2 AND pr_number = $3
	          ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, slug, prNumber)
	if err != nil {
		return nil, fmt.Errorf("list prior comments: %w", err)
	}
	defer rows.Close()

	var prior []domain.ReviewComment
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan prior comments: %w", err)
		}
		var comments []domain.ReviewComment
		if err := json.Unmarshal([]byte(raw), &comments); err != nil {
			return nil, fmt.Errorf("decode prior comments: %w", err)
		}
		prior = append(prior, comments...)
	}
	return prior, nil
}

// --- Subscriptions ---

// GetSubscription returns a user's subscription, defaulting to an active
// free plan when no row exists.
func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `SELECT user_id, plan, status, current_period_end, review_count_month, review_count_reset_at
	          FROM subscriptions WHERE user_id = $1`

	var sub domain.Subscription
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.UserID, &sub.Plan, &sub.Status, &sub.CurrentPeriodEnd,
		&sub.ReviewCountMonth, &sub.ReviewCountResetAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Subscription{
			UserID:             userID,
			Plan:               domain.PlanFree,
			Status:             "active",
			ReviewCountResetAt: time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// ResetReviewCount zeroes the monthly counter and restarts its window.
func (s *PostgresStore) ResetReviewCount(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE subscriptions SET review_count_month = 0, review_count_reset_at = $1 WHERE user_id = $2`
	_, err := s.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("reset review count: %w", err)
	}
	return nil
}

// IncrementReviewCount upserts the subscription row and adds 1 atomically.
func (s *PostgresStore) IncrementReviewCount(ctx context.Context, userID string) error {
	query := `
		INSERT INTO subscriptions (user_id, review_count_month)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			review_count_month = subscriptions.review_count_month + 1`

	_, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("increment review count: %w", err)
	}
	return nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*domain.ConnectedRepo, error) {
	var (
		r                         domain.ConnectedRepo
		analysis, persona, skills string
		hookID                    sql.NullInt64
	)
	if err := row.Scan(
		&r.UserID, &r.Slug, &r.Name, &r.Provider, &r.Status, &r.ConnectedAt,
		&analysis, &persona, &skills, &hookID, &r.WebhookSecret,
	); err != nil {
		return nil, err
	}

	if analysis != "" && analysis != "null" {
		r.Analysis = &domain.Analysis{}
		if err := json.Unmarshal([]byte(analysis), r.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis data: %w", err)
		}
	}
	if persona != "" && persona != "null" {
		r.Persona = &domain.Persona{}
		if err := json.Unmarshal([]byte(persona), r.Persona); err != nil {
			return nil, fmt.Errorf("decode persona data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(skills), &r.CustomSkills); err != nil {
		return nil, fmt.Errorf("decode custom skills: %w", err)
	}
	if hookID.Valid {
		id := int(hookID.Int64)
		r.WebhookHookID = &id
	}
	return &r, nil
}

func collectRepos(rows *sql.Rows) ([]domain.ConnectedRepo, error) {
	var repos []domain.ConnectedRepo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connected repo: %w", err)
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}
