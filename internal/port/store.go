package port

import (
	"context"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
)

// Store is the relational data plane: user settings, connected repos,
// reviews, subscriptions, and audit records. The implementation runs with a
// service-role connection; row-level policies live outside the core.
type Store interface {
	// --- User settings ---
	GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	UpdateUserSettings(ctx context.Context, s *domain.UserSettings) error
	// SaveProviderTokens always writes the full (access, refresh) pair so
	// callers can never leave a stale refresh token behind.
	SaveProviderTokens(ctx context.Context, userID, provider, access, refresh string) error

	// --- Connected repos ---
	CreateConnectedRepo(ctx context.Context, r *domain.ConnectedRepo) error
	GetConnectedRepo(ctx context.Context, userID, slug string) (*domain.ConnectedRepo, error)
	ListConnectedRepos(ctx context.Context, userID string) ([]domain.ConnectedRepo, error)
	// ListConnectedReposByName returns every user's row for a forge
	// repo full name (owner/name), regardless of status.
	ListConnectedReposByName(ctx context.Context, provider, name string) ([]domain.ConnectedRepo, error)
	UpdateRepoStatus(ctx context.Context, userID, slug, status string) error
	SaveAnalysis(ctx context.Context, userID, slug string, a *domain.Analysis) error
	SavePersona(ctx context.Context, userID, slug string, p *domain.Persona) error
	UpdateCustomSkills(ctx context.Context, userID, slug string, skills []string) error
	DeleteConnectedRepo(ctx context.Context, userID, slug string) error

	// --- Reviews ---
	InsertReview(ctx context.Context, r *domain.Review) error
	ListReviews(ctx context.Context, userID, slug string) ([]domain.Review, error)
	// ListPriorComments flattens the comments of all prior reviews for a
	// PR, newest review first.
	ListPriorComments(ctx context.Context, userID, slug string, prNumber int) ([]domain.ReviewComment, error)

	// --- Subscriptions ---
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	ResetReviewCount(ctx context.Context, userID string, at time.Time) error
	// IncrementReviewCount upserts the row and adds 1 atomically.
	IncrementReviewCount(ctx context.Context, userID string) error

	// --- Audit ---
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}
