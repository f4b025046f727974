package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// TokenService hands out valid provider access tokens, refreshing expired
// ones on demand.
//
// Writes are last-wins: two workers refreshing the same user concurrently
// may burn a single-use refresh token, in which case the user has to
// re-authenticate. Accepted — serializing refreshes across workers is not
// worth a lock on the hot path.
type TokenService struct {
	store  port.Store
	forges port.ForgeRegistry
}

// NewTokenService creates a token service.
func NewTokenService(store port.Store, forges port.ForgeRegistry) *TokenService {
	return &TokenService{store: store, forges: forges}
}

// SaveInitial upserts the token pair captured at OAuth connect time.
func (s *TokenService) SaveInitial(ctx context.Context, userID, provider, access, refresh string) error {
	return s.store.SaveProviderTokens(ctx, userID, provider, access, refresh)
}

// GetValid returns an access token that either passed a probe call moments
// ago or was just issued by a refresh (a refreshed token is not probed).
// An expired token is refreshed and the new pair written back; no token and
// no working refresh yields ErrUnauthorized.
func (s *TokenService) GetValid(ctx context.Context, userID, provider string) (string, error) {
	forge, ok := s.forges[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}

	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load tokens: %w", err)
	}

	access, refresh := settings.TokensFor(provider)
	if access == "" && refresh == "" {
		return "", port.ErrUnauthorized
	}

	if access != "" {
		if err := forge.Whoami(ctx, access); err == nil {
			return access, nil
		}
	}

	if refresh == "" {
		return "", port.ErrUnauthorized
	}

	pair, err := forge.RefreshToken(ctx, refresh)
	if err != nil {
		slog.Warn("token refresh failed", "user_id", userID, "provider", provider, "error", err)
		return "", port.ErrUnauthorized
	}

	// Providers that rotate refresh tokens return a new one; keep the old
	// one only when they don't.
	newRefresh := pair.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	if err := s.store.SaveProviderTokens(ctx, userID, provider, pair.AccessToken, newRefresh); err != nil {
		return "", fmt.Errorf("save refreshed tokens: %w", err)
	}

	slog.Info("provider token refreshed", "user_id", userID, "provider", provider)
	return pair.AccessToken, nil
}
