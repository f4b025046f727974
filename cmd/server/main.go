package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/ai"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/forge"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/queue"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/store"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/handler"
	"github.com/arturoeanton/go-pr-sentinel/internal/middleware"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/arturoeanton/go-pr-sentinel/internal/service"
	"github.com/arturoeanton/go-pr-sentinel/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting PR Sentinel server", "port", cfg.Port)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	jobQueue := queue.NewPostgresQueue(pgStore.DB())

	// ── Forge adapters ───────────────────────────────────────────────────
	github := forge.NewGitHub(forge.GitHubConfig{
		ClientID:      cfg.GitHubClientID,
		ClientSecret:  cfg.GitHubClientSecret,
		AppID:         cfg.GitHubAppID,
		AppPrivateKey: cfg.GitHubAppPrivateKey,
	})
	gitlab := forge.NewGitLab(forge.GitLabConfig{
		ClientID:     cfg.GitLabClientID,
		ClientSecret: cfg.GitLabClientSecret,
		WebhookURL:   cfg.WebhookBaseURL + "/webhooks",
		BotToken:     cfg.GitLabBotToken,
		BotUserID:    cfg.GitLabBotUserID,
	})
	forges := port.ForgeRegistry{
		domain.ProviderGitHub: github,
		domain.ProviderGitLab: gitlab,
	}

	// ── Services ─────────────────────────────────────────────────────────
	tokenService := service.NewTokenService(pgStore, forges)
	repoService := service.NewRepoService(pgStore, jobQueue, tokenService, gitlab)
	interviewService := service.NewInterviewService(pgStore, ai.NewChatClient(""))

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(pgStore))

	// ── Public routes ────────────────────────────────────────────────────
	webhookHandler := handler.NewWebhookHandler(pgStore, jobQueue, forges, cfg.GitHubWebhookSecret)
	webhookHandler.Register(app)

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    cfg.AppName,
		})
	})

	// ── Protected routes ─────────────────────────────────────────────────
	jwtMiddleware := middleware.JWTMiddleware(middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	})

	api := app.Group("/api/v1", jwtMiddleware)

	repoHandler := handler.NewRepoHandler(repoService, pgStore)
	repoHandler.Register(api)

	settingsHandler := handler.NewSettingsHandler(pgStore)
	settingsHandler.Register(api)

	interviewHandler := handler.NewInterviewHandler(interviewService)
	interviewHandler.Register(api)

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
