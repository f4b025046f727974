package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Known chat-completion endpoints keyed by provider. Unknown providers fall
// back to the OpenAI-compatible shape at BaseURLOverride.
var providerBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"anthropic":  "https://api.anthropic.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

// ChatClient calls a chat-completions API directly. The interview driver
// uses it for its single-turn steps, where spinning up a sandboxed agent
// would be pure overhead.
type ChatClient struct {
	baseURLOverride string
	httpClient      *http.Client
}

// NewChatClient creates a chat client. baseURLOverride is for tests and
// self-hosted gateways; empty means per-provider defaults.
func NewChatClient(baseURLOverride string) *ChatClient {
	return &ChatClient{
		baseURLOverride: baseURLOverride,
		httpClient:      &http.Client{Timeout: 120 * time.Second},
	}
}

// Chat sends one system+user exchange to the provider encoded in the
// provider/model selector and returns the assistant text.
func (c *ChatClient) Chat(ctx context.Context, model, apiKey, systemPrompt, userPrompt string) (string, error) {
	provider, bareModel, ok := strings.Cut(model, "/")
	if !ok {
		return "", fmt.Errorf("chat: model %q is not in provider/model form", model)
	}

	baseURL := c.baseURLOverride
	if baseURL == "" {
		baseURL = providerBaseURLs[provider]
	}
	if baseURL == "" {
		return "", fmt.Errorf("chat: unknown provider %q", provider)
	}

	payload := map[string]any{
		"model": bareModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chat: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: API error (%d): %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}
