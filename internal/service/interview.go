package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-pr-sentinel/internal/adapter/agent"
	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// ChatProvider is the single-turn LLM call the interview driver runs on.
type ChatProvider interface {
	Chat(ctx context.Context, model, apiKey, systemPrompt, userPrompt string) (string, error)
}

// InterviewService drives the persona interview: a stateless step function
// over the stored analysis profile and the answers collected so far. Each
// step yields the next question or the finished persona.
type InterviewService struct {
	store port.Store
	chat  ChatProvider
}

// NewInterviewService creates an interview service.
func NewInterviewService(store port.Store, chat ChatProvider) *InterviewService {
	return &InterviewService{store: store, chat: chat}
}

// Step runs one interview turn. A complete step persists the persona and
// activates the repo.
func (s *InterviewService) Step(ctx context.Context, userID, slug string, answers []domain.InterviewAnswer) (*domain.InterviewStep, error) {
	repo, err := s.store.GetConnectedRepo(ctx, userID, slug)
	if err != nil {
		return nil, fmt.Errorf("interview repo: %w", err)
	}

	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("interview settings: %w", err)
	}
	if settings.APIKey == "" {
		return nil, port.ErrUnauthorized
	}

	profile := ""
	if repo.Analysis != nil {
		profile = repo.Analysis.Profile
	}

	response, err := s.chat.Chat(ctx, settings.NormalizedModel(), settings.APIKey,
		interviewSystemPrompt, buildInterviewUserMessage(profile, answers))
	if err != nil {
		return nil, fmt.Errorf("interview chat: %w", err)
	}

	var step domain.InterviewStep
	if err := agent.DecodeJSON(response, &step); err != nil {
		return nil, err
	}

	switch step.Status {
	case domain.InterviewStatusQuestion:
		if step.Question == nil {
			return nil, fmt.Errorf("%w: question status without question", port.ErrAgentResponseInvalidShape)
		}
		if err := step.Question.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", port.ErrAgentResponseInvalidShape, err)
		}

	case domain.InterviewStatusComplete:
		if strings.TrimSpace(step.Persona) == "" {
			return nil, fmt.Errorf("%w: complete status without persona", port.ErrAgentResponseInvalidShape)
		}
		if err := s.store.SavePersona(ctx, userID, slug, &domain.Persona{Content: step.Persona}); err != nil {
			return nil, fmt.Errorf("interview persona save: %w", err)
		}
		slog.Info("interview complete", "user_id", userID, "slug", slug, "answers", len(answers))

	case domain.InterviewStatusError:
		// Surfaced to the caller as-is.

	default:
		return nil, fmt.Errorf("%w: unknown status %q", port.ErrAgentResponseInvalidShape, step.Status)
	}

	return &step, nil
}
