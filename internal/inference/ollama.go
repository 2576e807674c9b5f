package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxPromptChars keeps prompts within a small model's context window.
const maxPromptChars = 32000

// Ollama generates text using a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	logger  *slog.Logger
	client  *http.Client
}

// NewOllama creates an Ollama-backed generator.
func NewOllama(baseURL, model string, logger *slog.Logger) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		logger:  logger,
		client: &http.Client{
			Timeout: 120 * time.Second, // LLM generation can be slow
		},
	}
}

// ollamaRequest is the request body for Ollama /api/generate.
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// ollamaResponse is the response body from Ollama /api/generate.
type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements Backend.
func (o *Ollama) Generate(ctx context.Context, p Prompt) (string, error) {
	prompt := p.User
	if len(prompt) > maxPromptChars {
		// Keep the head for instructions and the tail for the latest material
		prompt = prompt[:8000] + "\n\n[... middle truncated ...]\n\n" + prompt[len(prompt)-24000:]
	}

	reqBody := ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		System: p.System,
		Stream: false,
	}
	if p.Temperature > 0 {
		reqBody.Options = map[string]any{"temperature": p.Temperature}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Kind: Unavailable, Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Backend: "ollama",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", &Error{Kind: InvalidResponse, Backend: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}

	text := strings.TrimSpace(ollamaResp.Response)
	if text == "" {
		return "", &Error{Kind: InvalidResponse, Backend: "ollama", Err: fmt.Errorf("empty response")}
	}

	o.logger.Debug("ollama generate",
		"task", p.Task,
		"model", o.model,
		"prompt_chars", len(prompt),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// HealthCheck verifies Ollama is reachable.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}
