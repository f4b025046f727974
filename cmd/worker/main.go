package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/forge"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/queue"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/sandbox"
	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/store"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/arturoeanton/go-pr-sentinel/internal/service"
	"github.com/arturoeanton/go-pr-sentinel/pkg/config"
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

	slog.Info("🚀 Starting PR Sentinel worker",
		"poll_interval_ms", cfg.PollIntervalMS,
		"sandbox_image", cfg.SandboxImage,
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	jobQueue := queue.NewPostgresQueue(pgStore.DB())

	// ── Adapters ─────────────────────────────────────────────────────────
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

	box := sandbox.NewDockerSandbox(cfg.SandboxImage)

	skills, err := service.LoadSkillsCatalog(cfg.SkillsDir)
	if err != nil {
		slog.Error("failed to load skills catalog", "error", err)
		os.Exit(1)
	}

	// ── Services ─────────────────────────────────────────────────────────
	tokenService := service.NewTokenService(pgStore, forges)
	analyzer := service.NewAnalyzer(pgStore, tokenService, box)
	reviewer := service.NewReviewer(pgStore, tokenService, forges, box, skills)

	scheduler := service.NewScheduler(jobQueue, analyzer, reviewer,
		time.Duration(cfg.PollIntervalMS)*time.Millisecond)

	// ── Run until signalled ──────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Run(ctx)
}
