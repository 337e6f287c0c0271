package generate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/model"
)

const (
	defaultGeminiModel  = "gemini-2.0-flash"
	defaultGeminiKeyEnv = "GEMINI_API_KEY"
)

// Gemini proposes candidates with one GenerateContent call per window.
type Gemini struct {
	model  string
	apiKey string
}

// NewGemini constructs the Gemini-backed generator.
func NewGemini(cfg config.GeneratorConfig) (*Gemini, error) {
	envKey := strings.TrimSpace(cfg.APIKeyEnv)
	if envKey == "" {
		envKey = defaultGeminiKeyEnv
	}
	apiKey := strings.TrimSpace(os.Getenv(envKey))
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required (set %s)", envKey)
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &Gemini{model: modelName, apiKey: apiKey}, nil
}

// Generate runs one oneshot generation over the window and decodes the
// result through the candidate boundary.
func (g *Gemini) Generate(ctx context.Context, window []model.Utterance) ([]model.CandidateTask, error) {
	if len(window) == 0 {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model,
		genai.Text(renderWindow(window)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini response did not contain output text")
	}
	return decodeCandidates([]byte(text), windowSpan(window))
}
