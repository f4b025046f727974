package service

import (
	"fmt"
	"strings"

	"github.com/arturoeanton/go-pr-sentinel/internal/domain"
)

// noneSentinel substitutes for a missing persona or analysis profile so the
// template never renders an empty section.
const noneSentinel = "(none)"

const analysisSystemPrompt = `You are an expert software architect producing a codebase profile for a code-review assistant.

Explore the repository at your working directory and produce a Markdown profile covering:
1. **Purpose** — what the project does, in two or three sentences
2. **Stack** — languages, frameworks, and notable libraries in use
3. **Architecture** — layering, major packages/modules, and how they depend on each other
4. **Conventions** — naming, error handling, logging, and testing patterns the team follows
5. **Hot Spots** — the files or areas where changes are most likely to be risky

Format rules:
- Use Markdown headings (##) and bullet points
- Be specific about the actual files and packages found, not generic
- Keep the whole profile under 600 lines
- Output ONLY the profile markdown, no preamble`

const reviewSystemPromptTemplate = `You are a senior code reviewer. Review the pull request according to the team's review persona below. Use the repository checkout at your working directory to confirm context beyond the diff.

## Review Persona
{{PERSONA}}

## Codebase Profile
{{ANALYSIS}}

## Review Skills
{{PREDEFINED_SKILLS}}

## Team Skills
{{CUSTOM_SKILLS}}

Respond with ONLY a JSON object of the shape:
{"comments": [{"file": "path", "line": 1, "endLine": 2, "severity": "critical|warning|suggestion", "category": "...", "message": "...", "suggestion": "replacement code (optional)"}]}

Rules:
- Comment only on lines that appear in the diff with their new-file line numbers
- severity "critical" for bugs and security issues, "warning" for likely problems, "suggestion" for style
- "suggestion" field carries replacement code only, no prose
- No comments is a valid review: {"comments": []}`

const interviewSystemPrompt = `You are conducting a structured interview to build a team's code-review persona. You are given the codebase profile (possibly absent) and the answers collected so far.

Emit EXACTLY ONE JSON object, nothing else. Either the next question:
{"status": "question", "question": {...}, "questionNumber": N, "estimatedTotal": M}
or the finished persona:
{"status": "complete", "persona": "markdown document"}
or an error:
{"status": "error", "message": "..."}

Question object shapes by "type":
- "single_select" / "multi_select": {"type", "question", "category", "options": ["..."]} — options non-empty
- "code_opinion": adds "codeSnippet" and "codeFile" with a real snippet from the profile's hot spots
- "confirm_correct": {"type", "question", "category", "detections": ["..."]} — detections non-empty
- "short_text": optional "placeholder"

Interview budget: ask at least 7 questions before completing, aim for about 12, never exceed 15. Cover every category: architecture, layers, api, testing, errors, review_philosophy, ignore.

The final persona is a Markdown document of concrete review rules the team wants enforced, written in the second person for a reviewer.`

// buildReviewSystemPrompt fills the review template. Missing persona or
// analysis renders the "(none)" sentinel.
func buildReviewSystemPrompt(persona, analysis, predefinedSkills, customSkills string) string {
	if strings.TrimSpace(persona) == "" {
		persona = noneSentinel
	}
	if strings.TrimSpace(analysis) == "" {
		analysis = noneSentinel
	}
	if strings.TrimSpace(predefinedSkills) == "" {
		predefinedSkills = noneSentinel
	}
	if strings.TrimSpace(customSkills) == "" {
		customSkills = noneSentinel
	}

	r := strings.NewReplacer(
		"{{PERSONA}}", persona,
		"{{ANALYSIS}}", analysis,
		"{{PREDEFINED_SKILLS}}", predefinedSkills,
		"{{CUSTOM_SKILLS}}", customSkills,
	)
	return r.Replace(reviewSystemPromptTemplate)
}

// buildReviewUserMessage assembles the PR header, the previously flagged
// issues (for the model's awareness, truncated to keep the prompt lean),
// and the annotated diff.
func buildReviewUserMessage(event *domain.WebhookEvent, description string, fileCount int, prior []domain.ReviewComment, diff string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Pull Request: %s\n", event.PRTitle)
	if description != "" {
		fmt.Fprintf(&b, "%s\n", description)
	}
	fmt.Fprintf(&b, "\nAuthor: %s\nTarget branch: %s\nFiles changed: %d\n", event.PRAuthor, event.BaseBranch, fileCount)

	if len(prior) > 0 {
		b.WriteString("\n## Previously Flagged Issues\nDo not repeat these:\n")
		for _, p := range prior {
			msg := p.Message
			if len(msg) > 120 {
				msg = msg[:120]
			}
			fmt.Fprintf(&b, "- [%s:%d] %s\n", p.File, p.Line, msg)
		}
	}

	b.WriteString("\n## Diff\n")
	b.WriteString(diff)
	return b.String()
}

// buildInterviewUserMessage renders the profile and transcript for one
// interview step.
func buildInterviewUserMessage(profile string, answers []domain.InterviewAnswer) string {
	var b strings.Builder

	b.WriteString("## Codebase Profile\n")
	if strings.TrimSpace(profile) == "" {
		b.WriteString(noneSentinel + "\n")
	} else {
		b.WriteString(profile + "\n")
	}

	fmt.Fprintf(&b, "\n## Answers So Far (%d)\n", len(answers))
	for i, a := range answers {
		fmt.Fprintf(&b, "Q%d [%s/%s]: %s\nA%d: %s\n", i+1, a.Question.Category, a.Question.Type, a.Question.Question, i+1, a.Answer)
	}
	return b.String()
}
