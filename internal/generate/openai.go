package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/generate/openaiapi"
	"github.com/evanwires/sidekick/internal/model"
)

// OpenAI proposes candidates with a single Responses API call per window.
type OpenAI struct {
	client *openaiapi.Client
}

// NewOpenAI constructs the OpenAI-backed generator.
func NewOpenAI(cfg config.GeneratorConfig) (*OpenAI, error) {
	client, err := openaiapi.NewClient(openaiapi.Config{
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: client}, nil
}

// Generate runs one oneshot completion over the window and decodes the
// result through the candidate boundary.
func (g *OpenAI) Generate(ctx context.Context, window []model.Utterance) ([]model.CandidateTask, error) {
	if len(window) == 0 {
		return nil, nil
	}
	out, err := g.client.Complete(ctx, openaiapi.CompletionRequest{
		Instructions: instructions,
		Input:        renderWindow(window),
	})
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	return decodeCandidates([]byte(out.OutputText), windowSpan(window))
}
