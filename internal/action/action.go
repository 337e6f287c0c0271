// Package action executes approved tasks against a retailer backend,
// either simulated or through an MCP tool server.
package action

import (
	"fmt"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/engine"
)

// New selects the executor for cfg.Type. The default is the simulator.
func New(cfg config.ActionConfig) (engine.Action, error) {
	switch cfg.Type {
	case "", "sim":
		return NewSim(), nil
	case "mcp":
		return NewMCP(cfg.MCP)
	default:
		return nil, fmt.Errorf("unknown action type %q", cfg.Type)
	}
}
