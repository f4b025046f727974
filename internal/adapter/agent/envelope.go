package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// Paths and binary names of the agent CLI contract inside the sandbox.
const (
	// AuthFilePath is where the agent CLI looks up provider credentials.
	AuthFilePath = "/root/.local/share/opencode/auth.json"

	binary = "opencode"
)

// Timeouts for the two agent invocations.
const (
	AnalyzeTimeout = 15 * time.Minute
	ReviewTimeout  = 5 * time.Minute
)

// Command builds the shell command that runs the agent: the user prompt is
// piped on stdin, the optional system prompt rides a file flag, and stdout
// is redirected to resultPath for later pickup.
func Command(model, userPromptPath, systemPromptPath, workDir, resultPath string) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "cat %s | %s run --model %s --format json --dir %s", userPromptPath, binary, model, workDir)
	if systemPromptPath != "" {
		fmt.Fprintf(&b, " --file %s", systemPromptPath)
	}
	fmt.Fprintf(&b, " > %s", resultPath)
	return []string{"sh", "-c", b.String()}
}

// AuthFile renders the credentials file the agent CLI reads:
// provider → {type: "api", key}.
func AuthFile(provider, apiKey string) (string, error) {
	creds := map[string]map[string]string{
		provider: {"type": "api", "key": apiKey},
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal agent auth: %w", err)
	}
	return string(raw), nil
}

// ExtractText concatenates the text field of every NDJSON event whose type
// is "text". Lines that fail to parse are skipped silently — the agent
// interleaves tool traffic and diagnostics on the same stream.
func ExtractText(output string) string {
	var b strings.Builder
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Type == "text" {
			b.WriteString(event.Text)
		}
	}
	return b.String()
}

// DecodeJSON parses the agent's final text blob into v. Markdown fences are
// stripped first; if the body still fails to parse, a sanitizing pass
// escapes raw control characters inside string literals and the parse is
// retried once.
func DecodeJSON(text string, v any) error {
	body := StripFences(text)
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(Sanitize(body)), v); err != nil {
		return fmt.Errorf("%w: %v", port.ErrAgentResponseMalformed, err)
	}
	return nil
}

// StripFences removes a leading ```json / ``` fence and a trailing ```.
func StripFences(text string) string {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```json") {
		body = strings.TrimPrefix(body, "```json")
	} else if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// Sanitize walks the text tracking string-literal state and replaces raw
// newlines, carriage returns, and tabs inside strings with their two-char
// escapes. LLMs routinely emit literal control characters in JSON string
// values; everything outside strings passes through unchanged.
func Sanitize(text string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	b.Grow(len(text))

	for _, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteRune(r)
				continue
			case r == '\\':
				escaped = true
				b.WriteRune(r)
				continue
			case r == '"':
				inString = false
				b.WriteRune(r)
				continue
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\r':
				b.WriteString(`\r`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteRune(r)
			continue
		}
		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
