package service

import (
	"errors"
	"testing"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/arturoeanton/go-pr-sentinel/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interviewRepo() *domain.ConnectedRepo {
	return &domain.ConnectedRepo{
		UserID:   "u1",
		Slug:     "api",
		Name:     "acme/api",
		Provider: domain.ProviderGitHub,
		Status:   domain.RepoStatusInterview,
		Analysis: &domain.Analysis{Profile: "Go service with hexagonal layout"},
	}
}

func interviewSettings() *domain.UserSettings {
	return &domain.UserSettings{LLMProvider: "anthropic", LLMModel: "anthropic/claude-sonnet-4-20250514", APIKey: "sk", MaxComments: 10}
}

func TestInterviewStepQuestion(t *testing.T) {
	store := &fakeStore{repo: interviewRepo(), settings: interviewSettings()}
	chat := &fakeChat{response: `{"status":"question","questionNumber":3,"estimatedTotal":12,
		"question":{"type":"single_select","question":"How strict is layering?","category":"layers",
		"options":["Strict","Loose"]}}`}
	svc := NewInterviewService(store, chat)

	answers := []domain.InterviewAnswer{
		{Question: domain.InterviewQuestion{Type: domain.QuestionShortText, Question: "Name the architecture", Category: "architecture"}, Answer: "hexagonal"},
	}
	step, err := svc.Step(t.Context(), "u1", "api", answers)
	require.NoError(t, err)

	assert.Equal(t, domain.InterviewStatusQuestion, step.Status)
	assert.Equal(t, 3, step.QuestionNumber)
	require.NotNil(t, step.Question)
	assert.Equal(t, []string{"Strict", "Loose"}, step.Question.Options)

	// The profile and transcript ride in the user message.
	assert.Contains(t, chat.lastUser, "hexagonal layout")
	assert.Contains(t, chat.lastUser, "Name the architecture")
	assert.Empty(t, store.savedPersonas)
}

func TestInterviewStepComplete(t *testing.T) {
	store := &fakeStore{repo: interviewRepo(), settings: interviewSettings()}
	chat := &fakeChat{response: `{"status":"complete","persona":"# Review Rules\nAlways check errors."}`}
	svc := NewInterviewService(store, chat)

	step, err := svc.Step(t.Context(), "u1", "api", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.InterviewStatusComplete, step.Status)
	require.Len(t, store.savedPersonas, 1)
	assert.Contains(t, store.savedPersonas[0].Content, "Always check errors")
	assert.Equal(t, domain.RepoStatusActive, store.repo.Status)
}

func TestInterviewStepInvalidQuestionShapes(t *testing.T) {
	cases := map[string]string{
		"select without options": `{"status":"question","question":{"type":"single_select","question":"q?"}}`,
		"code opinion bare":      `{"status":"question","question":{"type":"code_opinion","question":"q?","options":["a"]}}`,
		"confirm no detections":  `{"status":"question","question":{"type":"confirm_correct","question":"q?"}}`,
		"unknown type":           `{"status":"question","question":{"type":"ranking","question":"q?"}}`,
		"missing question":       `{"status":"question"}`,
		"complete no persona":    `{"status":"complete","persona":"  "}`,
		"unknown status":         `{"status":"thinking"}`,
	}

	for name, response := range cases {
		store := &fakeStore{repo: interviewRepo(), settings: interviewSettings()}
		svc := NewInterviewService(store, &fakeChat{response: response})

		_, err := svc.Step(t.Context(), "u1", "api", nil)
		assert.True(t, errors.Is(err, port.ErrAgentResponseInvalidShape), "%s: got %v", name, err)
		assert.Empty(t, store.savedPersonas, name)
	}
}

func TestInterviewStepErrorStatusPassesThrough(t *testing.T) {
	store := &fakeStore{repo: interviewRepo(), settings: interviewSettings()}
	svc := NewInterviewService(store, &fakeChat{response: `{"status":"error","message":"model overloaded"}`})

	step, err := svc.Step(t.Context(), "u1", "api", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.InterviewStatusError, step.Status)
	assert.Equal(t, "model overloaded", step.Message)
}

func TestInterviewStepFencedResponse(t *testing.T) {
	store := &fakeStore{repo: interviewRepo(), settings: interviewSettings()}
	chat := &fakeChat{response: "```json\n{\"status\":\"question\",\"question\":{\"type\":\"short_text\",\"question\":\"Anything to ignore?\",\"category\":\"ignore\"}}\n```"}
	svc := NewInterviewService(store, chat)

	step, err := svc.Step(t.Context(), "u1", "api", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.InterviewStatusQuestion, step.Status)
}

func TestInterviewStepRequiresAPIKey(t *testing.T) {
	settings := interviewSettings()
	settings.APIKey = ""
	store := &fakeStore{repo: interviewRepo(), settings: settings}
	svc := NewInterviewService(store, &fakeChat{})

	_, err := svc.Step(t.Context(), "u1", "api", nil)
	assert.True(t, errors.Is(err, port.ErrUnauthorized))
}
