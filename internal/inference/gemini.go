package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// Gemini generates text through Vertex AI.
type Gemini struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

// NewGemini creates a Vertex AI (Gemini) backend for the given project.
func NewGemini(ctx context.Context, project, location, model string, logger *slog.Logger) (*Gemini, error) {
	if project == "" || location == "" {
		return nil, fmt.Errorf("GCP_PROJECT and GCP_LOCATION must be set for the gemini backend")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &Gemini{client: client, modelName: model, logger: logger}, nil
}

// Generate implements Backend.
func (g *Gemini) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}

	topP := float32(0.9)
	cfg := &genai.GenerateContentConfig{
		TopP:            &topP,
		MaxOutputTokens: int32(8192),
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.Temperature > 0 {
		temp := p.Temperature
		cfg.Temperature = &temp
	}

	start := time.Now()
	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Kind: classifyGeminiError(err), Backend: "gemini", Err: err}
	}

	text := res.Text()
	if text == "" {
		return "", &Error{Kind: InvalidResponse, Backend: "gemini", Err: fmt.Errorf("empty text")}
	}

	g.logger.Debug("gemini generate",
		"task", p.Task,
		"model", g.modelName,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

func classifyGeminiError(err error) ErrorKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.Code)
	}
	return Unavailable
}
