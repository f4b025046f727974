package service

import (
	"strings"
	"testing"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildReviewSystemPrompt(t *testing.T) {
	prompt := buildReviewSystemPrompt("Check errors.", "Go repo.", "## Go Practices", "House rules")

	assert.Contains(t, prompt, "Check errors.")
	assert.Contains(t, prompt, "Go repo.")
	assert.Contains(t, prompt, "## Go Practices")
	assert.Contains(t, prompt, "House rules")
	assert.NotContains(t, prompt, "{{", "all placeholders substituted")
}

func TestBuildReviewSystemPromptMissingSections(t *testing.T) {
	prompt := buildReviewSystemPrompt("persona", "", "", "  ")
	assert.Equal(t, 3, strings.Count(prompt, noneSentinel))
}

func TestBuildReviewUserMessage(t *testing.T) {
	event := &domain.WebhookEvent{
		PRTitle:    "Add caching",
		PRAuthor:   "alice",
		BaseBranch: "main",
	}
	longMessage := strings.Repeat("x", 150)
	prior := []domain.ReviewComment{{File: "a.go", Line: 4, Message: longMessage}}

	msg := buildReviewUserMessage(event, "Speeds up reads", 3, prior, "### a.go (modified, +1 -0)")

	assert.Contains(t, msg, "## Pull Request: Add caching")
	assert.Contains(t, msg, "Author: alice")
	assert.Contains(t, msg, "Target branch: main")
	assert.Contains(t, msg, "Files changed: 3")
	assert.Contains(t, msg, "Previously Flagged Issues")
	assert.Contains(t, msg, "[a.go:4] "+longMessage[:120])
	assert.NotContains(t, msg, longMessage[:121], "prior messages truncate at 120 chars")
	assert.Contains(t, msg, "### a.go (modified, +1 -0)")
}

func TestBuildReviewUserMessageNoPrior(t *testing.T) {
	msg := buildReviewUserMessage(&domain.WebhookEvent{PRTitle: "t"}, "", 1, nil, "diff")
	assert.NotContains(t, msg, "Previously Flagged Issues")
}
