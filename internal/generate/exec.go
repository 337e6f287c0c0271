package generate

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/metalagman/ainvoke"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/model"
)

// Exec shells out to an arbitrary agent CLI for candidate generation,
// with schema-enforced JSON in and out.
type Exec struct {
	runner ainvoke.Runner
}

// NewExec constructs the exec generator from the configured command.
func NewExec(cfg config.GeneratorConfig) (*Exec, error) {
	if len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("exec generator requires cmd")
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cfg.Cmd,
		UseTTY: cfg.UseTTY != nil && *cfg.UseTTY,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec runner: %w", err)
	}
	return &Exec{runner: runner}, nil
}

type windowInput struct {
	Utterances []utteranceInput `json:"utterances"`
}

type utteranceInput struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Seq     uint64 `json:"seq"`
}

// Generate invokes the agent command once with the window as input JSON
// and decodes its output through the candidate boundary.
func (g *Exec) Generate(ctx context.Context, window []model.Utterance) ([]model.CandidateTask, error) {
	if len(window) == 0 {
		return nil, nil
	}

	runDir, err := os.MkdirTemp("", "sidekick-generate-*")
	if err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	input := windowInput{Utterances: make([]utteranceInput, 0, len(window))}
	for _, u := range window {
		input.Utterances = append(input.Utterances, utteranceInput{
			Speaker: string(u.Speaker),
			Text:    u.Text,
			Seq:     u.Seq,
		})
	}

	out, _, _, err := g.runner.Run(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: instructions,
		Input:        input,
		InputSchema:  windowSchema,
		OutputSchema: candidatesSchema,
	}, ainvoke.WithStdout(io.Discard), ainvoke.WithStderr(io.Discard))
	if err != nil {
		return nil, fmt.Errorf("run exec generator: %w", err)
	}
	return decodeCandidates(out, windowSpan(window))
}
