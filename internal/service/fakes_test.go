package service

import (
	"context"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// --- fake store ---

type tokenWrite struct {
	provider, access, refresh string
}

type fakeStore struct {
	settings    *domain.UserSettings
	repo        *domain.ConnectedRepo
	sub         *domain.Subscription
	prior       []domain.ReviewComment
	settingsErr error

	tokenWrites    []tokenWrite
	savedAnalyses  []*domain.Analysis
	savedPersonas  []*domain.Persona
	statusUpdates  []string
	insertedReview []*domain.Review
	increments     int
	resets         int
}

func (f *fakeStore) GetUserSettings(_ context.Context, _ string) (*domain.UserSettings, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	if f.settings == nil {
		return nil, port.ErrSettingsNotFound
	}
	// Copy so tests observe write-backs explicitly.
	s := *f.settings
	return &s, nil
}

func (f *fakeStore) UpdateUserSettings(_ context.Context, s *domain.UserSettings) error {
	f.settings = s
	return nil
}

func (f *fakeStore) SaveProviderTokens(_ context.Context, _, provider, access, refresh string) error {
	f.tokenWrites = append(f.tokenWrites, tokenWrite{provider, access, refresh})
	if f.settings == nil {
		f.settings = &domain.UserSettings{}
	}
	if provider == domain.ProviderGitLab {
		f.settings.GitLabToken, f.settings.GitLabRefreshToken = access, refresh
	} else {
		f.settings.GitHubToken, f.settings.GitHubRefreshToken = access, refresh
	}
	return nil
}

func (f *fakeStore) CreateConnectedRepo(_ context.Context, r *domain.ConnectedRepo) error {
	f.repo = r
	return nil
}

func (f *fakeStore) GetConnectedRepo(_ context.Context, _, _ string) (*domain.ConnectedRepo, error) {
	if f.repo == nil {
		return nil, port.ErrRepoNotFound
	}
	return f.repo, nil
}

func (f *fakeStore) ListConnectedRepos(_ context.Context, _ string) ([]domain.ConnectedRepo, error) {
	if f.repo == nil {
		return nil, nil
	}
	return []domain.ConnectedRepo{*f.repo}, nil
}

func (f *fakeStore) ListConnectedReposByName(_ context.Context, _, _ string) ([]domain.ConnectedRepo, error) {
	if f.repo == nil {
		return nil, nil
	}
	return []domain.ConnectedRepo{*f.repo}, nil
}

func (f *fakeStore) UpdateRepoStatus(_ context.Context, _, _, status string) error {
	f.statusUpdates = append(f.statusUpdates, status)
	if f.repo != nil {
		f.repo.Status = status
	}
	return nil
}

func (f *fakeStore) SaveAnalysis(_ context.Context, _, _ string, a *domain.Analysis) error {
	f.savedAnalyses = append(f.savedAnalyses, a)
	if f.repo != nil {
		f.repo.Analysis = a
		f.repo.Status = domain.RepoStatusInterview
	}
	return nil
}

func (f *fakeStore) SavePersona(_ context.Context, _, _ string, p *domain.Persona) error {
	f.savedPersonas = append(f.savedPersonas, p)
	if f.repo != nil {
		f.repo.Persona = p
		f.repo.Status = domain.RepoStatusActive
	}
	return nil
}

func (f *fakeStore) UpdateCustomSkills(_ context.Context, _, _ string, skills []string) error {
	if f.repo != nil {
		f.repo.CustomSkills = skills
	}
	return nil
}

func (f *fakeStore) DeleteConnectedRepo(_ context.Context, _, _ string) error {
	f.repo = nil
	return nil
}

func (f *fakeStore) InsertReview(_ context.Context, r *domain.Review) error {
	f.insertedReview = append(f.insertedReview, r)
	return nil
}

func (f *fakeStore) ListReviews(_ context.Context, _, _ string) ([]domain.Review, error) {
	return nil, nil
}

func (f *fakeStore) ListPriorComments(_ context.Context, _, _ string, _ int) ([]domain.ReviewComment, error) {
	return f.prior, nil
}

func (f *fakeStore) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	if f.sub == nil {
		return &domain.Subscription{UserID: userID, Plan: domain.PlanFree, Status: "active", ReviewCountResetAt: time.Now()}, nil
	}
	s := *f.sub
	return &s, nil
}

func (f *fakeStore) ResetReviewCount(_ context.Context, _ string, at time.Time) error {
	f.resets++
	if f.sub != nil {
		f.sub.ReviewCountMonth = 0
		f.sub.ReviewCountResetAt = at
	}
	return nil
}

func (f *fakeStore) IncrementReviewCount(_ context.Context, _ string) error {
	f.increments++
	return nil
}

func (f *fakeStore) WriteAudit(_, _, _, _, _, _, _ string) error { return nil }

// --- fake forge ---

type fakeForge struct {
	name         string
	validTokens  map[string]bool
	refreshPair  *domain.TokenPair
	refreshErr   error
	refreshCalls int

	meta       *port.PRMetadata
	files      []port.FileChange
	fetchErr   error
	fetchCalls int

	posted   [][]domain.ReviewComment
	postErr  error
	botToken string
}

func (f *fakeForge) Name() string { return f.name }

func (f *fakeForge) VerifyWebhook(_ []byte, signature, secret string) bool {
	return signature == secret
}

func (f *fakeForge) ParseEvent(_ []byte) (*domain.WebhookEvent, bool) { return nil, false }

func (f *fakeForge) Whoami(_ context.Context, token string) error {
	if f.validTokens[token] {
		return nil
	}
	return port.ErrUnauthorized
}

func (f *fakeForge) RefreshToken(_ context.Context, _ string) (*domain.TokenPair, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshPair, nil
}

func (f *fakeForge) FetchDiff(_ context.Context, _ string, _ int, _ string) (*port.PRMetadata, []port.FileChange, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, nil, f.fetchErr
	}
	return f.meta, f.files, nil
}

func (f *fakeForge) PostReview(_ context.Context, _ string, _ int, _ string, comments []domain.ReviewComment, _ *port.PRMetadata) (int, error) {
	if f.postErr != nil {
		return 0, f.postErr
	}
	f.posted = append(f.posted, comments)
	return len(comments), nil
}

func (f *fakeForge) PostingToken(_ context.Context, _, userToken string) string {
	if f.botToken != "" {
		return f.botToken
	}
	return userToken
}

// --- fake sandbox ---

type fakeContainer struct {
	files   map[string]string
	execs   [][]string
	execErr error
	stopped bool
}

func (c *fakeContainer) Exec(_ context.Context, argv []string) (*port.ExecResult, error) {
	c.execs = append(c.execs, argv)
	if c.execErr != nil {
		return &port.ExecResult{ExitCode: 1}, c.execErr
	}
	return &port.ExecResult{}, nil
}

func (c *fakeContainer) ExecWithTimeout(ctx context.Context, argv []string, _ time.Duration) (*port.ExecResult, error) {
	return c.Exec(ctx, argv)
}

func (c *fakeContainer) WriteFile(_ context.Context, path, content string) error {
	c.files[path] = content
	return nil
}

func (c *fakeContainer) ReadFile(_ context.Context, path string) (string, error) {
	return c.files[path], nil
}

func (c *fakeContainer) Stop(_ context.Context) error {
	c.stopped = true
	return nil
}

type fakeSandbox struct {
	container *fakeContainer
	startErr  error
}

func (s *fakeSandbox) Start(_ context.Context) (port.Container, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.container, nil
}

// --- fake queue ---

type queuedMessage struct {
	msg   port.QueueMessage
	queue string
}

type fakeQueue struct {
	messages []queuedMessage
	deleted  []int64
	enqueued []string
	nextID   int64
}

func (q *fakeQueue) Enqueue(_ context.Context, queue string, body any) (int64, error) {
	q.nextID++
	q.enqueued = append(q.enqueued, queue)
	return q.nextID, nil
}

func (q *fakeQueue) Read(_ context.Context, queue string, _ time.Duration) (*port.QueueMessage, error) {
	for i, m := range q.messages {
		if m.queue == queue {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			msg := m.msg
			return &msg, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) Delete(_ context.Context, _ string, msgID int64) error {
	q.deleted = append(q.deleted, msgID)
	return nil
}

// --- fake chat ---

type fakeChat struct {
	response string
	err      error

	lastSystem string
	lastUser   string
}

func (c *fakeChat) Chat(_ context.Context, _, _, systemPrompt, userPrompt string) (string, error) {
	c.lastSystem = systemPrompt
	c.lastUser = userPrompt
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}
