package handler

import (
	"errors"
	"strings"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/middleware"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/arturoeanton/go-pr-sentinel/internal/service"
	"github.com/gofiber/fiber/v3"
)

// RepoHandler handles connected-repo CRUD for the dashboard.
type RepoHandler struct {
	repos *service.RepoService
	store port.Store
}

// NewRepoHandler creates a new repo handler.
func NewRepoHandler(repos *service.RepoService, store port.Store) *RepoHandler {
	return &RepoHandler{repos: repos, store: store}
}

// Register sets up repo routes on a protected group.
func (h *RepoHandler) Register(api fiber.Router) {
	repos := api.Group("/repos")
	repos.Get("/", h.List)
	repos.Post("/", h.Connect)
	repos.Delete("/:slug", h.Disconnect)
	repos.Put("/:slug/pause", h.SetPaused)
	repos.Put("/:slug/skills", h.UpdateSkills)
	repos.Get("/:slug/reviews", h.ListReviews)
}

// List returns the current user's connected repos.
func (h *RepoHandler) List(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	repos, err := h.store.ListConnectedRepos(c.Context(), uc.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"repos": repos, "count": len(repos)})
}

// Connect registers a new repo and kicks off its analysis.
func (h *RepoHandler) Connect(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Slug     string `json:"slug"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if body.Slug == "" || !strings.Contains(body.Name, "/") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "slug and owner/name required"})
	}

	repo, err := h.repos.Connect(c.Context(), uc.UserID, body.Slug, body.Name, body.Provider)
	if err != nil {
		if errors.Is(err, port.ErrUnauthorized) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "provider token expired, re-authenticate"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(repo)
}

// Disconnect deletes a repo, its reviews, and its forge webhook.
func (h *RepoHandler) Disconnect(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	if err := h.repos.Disconnect(c.Context(), uc.UserID, c.Params("slug")); err != nil {
		if errors.Is(err, port.ErrRepoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repo not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"ok": true})
}

// SetPaused toggles reviewing on or off for a repo.
func (h *RepoHandler) SetPaused(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Paused bool `json:"paused"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	if err := h.repos.SetPaused(c.Context(), uc.UserID, c.Params("slug"), body.Paused); err != nil {
		if errors.Is(err, port.ErrRepoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repo not found"})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"ok": true})
}

// UpdateSkills replaces a repo's custom skill list.
func (h *RepoHandler) UpdateSkills(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Skills []string `json:"skills"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	if err := h.repos.UpdateCustomSkills(c.Context(), uc.UserID, c.Params("slug"), body.Skills); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"ok": true})
}

// ListReviews returns a repo's review history, newest first.
func (h *RepoHandler) ListReviews(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	reviews, err := h.store.ListReviews(c.Context(), uc.UserID, c.Params("slug"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"reviews": reviews, "count": len(reviews)})
}

// SettingsHandler handles user settings for the dashboard.
type SettingsHandler struct {
	store port.Store
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(store port.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Register sets up settings routes on a protected group.
func (h *SettingsHandler) Register(api fiber.Router) {
	api.Get("/settings", h.Get)
	api.Put("/settings", h.Update)
}

// Get returns the user's settings; tokens and the API key never serialize.
func (h *SettingsHandler) Get(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	settings, err := h.store.GetUserSettings(c.Context(), uc.UserID)
	if errors.Is(err, port.ErrSettingsNotFound) {
		settings = &domain.UserSettings{UserID: uc.UserID, MaxComments: domain.DefaultMaxComments}
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(settings)
}

// Update stores LLM preferences and the comment cap.
func (h *SettingsHandler) Update(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		LLMProvider string `json:"llm_provider"`
		LLMModel    string `json:"llm_model"`
		APIKey      string `json:"api_key"`
		MaxComments int    `json:"max_comments"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	if body.LLMProvider == "" || body.LLMModel == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "llm_provider and llm_model required"})
	}
	if !strings.Contains(body.LLMModel, "/") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "llm_model must be in provider/model form"})
	}
	if body.MaxComments < domain.MinMaxComments {
		body.MaxComments = domain.DefaultMaxComments
	}
	if body.MaxComments > domain.MaxMaxComments {
		body.MaxComments = domain.MaxMaxComments
	}

	settings := &domain.UserSettings{
		UserID:      uc.UserID,
		LLMProvider: body.LLMProvider,
		LLMModel:    body.LLMModel,
		APIKey:      body.APIKey,
		MaxComments: body.MaxComments,
	}
	if err := h.store.UpdateUserSettings(c.Context(), settings); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"ok": true})
}
