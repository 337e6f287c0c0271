package action

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
)

// MCP executes tasks by calling one tool on an MCP server spawned over
// stdio. A fresh session is opened per execution; the engine guarantees
// each task executes at most once.
type MCP struct {
	cfg config.MCPConfig
	log zerolog.Logger
}

// NewMCP creates the MCP executor from its config.
func NewMCP(cfg config.MCPConfig) (*MCP, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp action requires command")
	}
	if cfg.Tool == "" {
		return nil, fmt.Errorf("mcp action requires tool")
	}
	return &MCP{cfg: cfg, log: logging.Component("action")}, nil
}

// Execute connects to the server, calls the configured tool with the
// task as arguments, and maps a tool-level error to a failed outcome.
func (m *MCP) Execute(ctx context.Context, task model.Task) (model.ActionResult, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "sidekick", Version: "1.0.0"}, nil)
	transport := &mcp.CommandTransport{
		Command: exec.CommandContext(ctx, m.cfg.Command, m.cfg.Args...),
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("connect mcp server: %w", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      m.cfg.Tool,
		Arguments: toolArguments(task),
	})
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("call tool %q: %w", m.cfg.Tool, err)
	}

	executedAt := time.Now().UTC()
	text := contentText(res.Content)
	if res.IsError {
		m.log.Warn().Str("task", task.ID).Str("tool", m.cfg.Tool).Str("detail", text).
			Msg("tool reported failure")
		return model.ActionResult{Outcome: model.OutcomeFailed, Reference: text, ExecutedAt: executedAt}, nil
	}
	m.log.Info().Str("task", task.ID).Str("tool", m.cfg.Tool).Msg("tool executed")
	return model.ActionResult{Outcome: model.OutcomeSucceeded, Reference: text, ExecutedAt: executedAt}, nil
}

func toolArguments(task model.Task) map[string]any {
	args := map[string]any{
		"task_id":     task.ID,
		"kind":        string(task.Kind),
		"category":    task.Category,
		"description": task.Description,
	}
	if task.CustomerName != "" {
		args["customer_name"] = task.CustomerName
	}
	if task.OrderRef != "" {
		args["order_ref"] = task.OrderRef
	}
	if task.Facts != nil {
		if status := task.Facts.Entity("order").Attrs["status"]; status != "" {
			args["order_status"] = status
		}
	}
	return args
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
