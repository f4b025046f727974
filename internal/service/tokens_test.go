package service

import (
	"errors"
	"testing"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetValidProbeSucceeds(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{GitHubToken: "live-token"}}
	forge := &fakeForge{name: domain.ProviderGitHub, validTokens: map[string]bool{"live-token": true}}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitHub: forge})

	token, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "live-token", token)
	assert.Zero(t, forge.refreshCalls)
	assert.Empty(t, store.tokenWrites, "no write-back when the probe passes")
}

func TestGetValidRefreshesExpiredToken(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{
		GitHubToken:        "expired",
		GitHubRefreshToken: "refresh-1",
	}}
	forge := &fakeForge{
		name:        domain.ProviderGitHub,
		validTokens: map[string]bool{},
		refreshPair: &domain.TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"},
	}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitHub: forge})

	token, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	require.Len(t, store.tokenWrites, 1)
	assert.Equal(t, tokenWrite{domain.ProviderGitHub, "fresh", "refresh-2"}, store.tokenWrites[0])
}

func TestGetValidKeepsOldRefreshWhenNotRotated(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{
		GitLabToken:        "expired",
		GitLabRefreshToken: "keep-me",
	}}
	forge := &fakeForge{
		name:        domain.ProviderGitLab,
		validTokens: map[string]bool{},
		refreshPair: &domain.TokenPair{AccessToken: "fresh"},
	}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitLab: forge})

	_, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitLab)
	require.NoError(t, err)

	require.Len(t, store.tokenWrites, 1)
	assert.Equal(t, "keep-me", store.tokenWrites[0].refresh)
}

func TestGetValidNoRefreshToken(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{GitHubToken: "expired"}}
	forge := &fakeForge{name: domain.ProviderGitHub, validTokens: map[string]bool{}}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitHub: forge})

	_, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitHub)
	assert.True(t, errors.Is(err, port.ErrUnauthorized))
	assert.Zero(t, forge.refreshCalls)
}

func TestGetValidRefreshFails(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{
		GitHubToken:        "expired",
		GitHubRefreshToken: "burned",
	}}
	forge := &fakeForge{
		name:        domain.ProviderGitHub,
		validTokens: map[string]bool{},
		refreshErr:  errors.New("invalid_grant"),
	}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitHub: forge})

	_, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitHub)
	assert.True(t, errors.Is(err, port.ErrUnauthorized))
	assert.Empty(t, store.tokenWrites)
}

func TestGetValidNoTokensAtAll(t *testing.T) {
	store := &fakeStore{settings: &domain.UserSettings{}}
	forge := &fakeForge{name: domain.ProviderGitHub}
	svc := NewTokenService(store, port.ForgeRegistry{domain.ProviderGitHub: forge})

	_, err := svc.GetValid(t.Context(), "u1", domain.ProviderGitHub)
	assert.True(t, errors.Is(err, port.ErrUnauthorized))
}
