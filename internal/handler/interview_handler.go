package handler

import (
	"errors"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/middleware"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/arturoeanton/go-pr-sentinel/internal/service"
	"github.com/gofiber/fiber/v3"
)

// InterviewHandler drives the persona interview from the dashboard.
type InterviewHandler struct {
	interview *service.InterviewService
}

// NewInterviewHandler creates an interview handler.
func NewInterviewHandler(interview *service.InterviewService) *InterviewHandler {
	return &InterviewHandler{interview: interview}
}

// Register sets up interview routes on a protected group.
func (h *InterviewHandler) Register(api fiber.Router) {
	api.Post("/repos/:slug/interview", h.Step)
}

// Step runs one interview turn: the client posts the answers collected so
// far and receives the next question, the finished persona, or an error.
func (h *InterviewHandler) Step(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Answers []domain.InterviewAnswer `json:"answers"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	step, err := h.interview.Step(c.Context(), uc.UserID, c.Params("slug"), body.Answers)
	if err != nil {
		switch {
		case errors.Is(err, port.ErrRepoNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repo not found"})
		case errors.Is(err, port.ErrUnauthorized), errors.Is(err, port.ErrSettingsNotFound):
			return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{"error": "configure an LLM API key first"})
		case errors.Is(err, port.ErrAgentResponseMalformed), errors.Is(err, port.ErrAgentResponseInvalidShape):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "model produced an unusable response, try again"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.JSON(step)
}
