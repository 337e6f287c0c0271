package action

import (
	"context"
	"testing"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/model"
)

func TestSimExecuteReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		task model.Task
		want string
	}{
		{
			name: "refund from order ref",
			task: model.Task{ID: "task-a1b2c3d4", Kind: model.KindAction, Category: "Refund Request", OrderRef: "ORDER-12345"},
			want: "REF-12345",
		},
		{
			name: "replacement",
			task: model.Task{ID: "task-a1b2c3d4", Kind: model.KindAction, Category: "Product Issue", OrderRef: "ORDER-67890"},
			want: "RPL-67890",
		},
		{
			name: "lookup falls back to task id",
			task: model.Task{ID: "task-a1b2c3d4", Kind: model.KindLookup, Category: "Account Help"},
			want: "LKP-A1B2C3D4",
		},
		{
			name: "other action",
			task: model.Task{ID: "task-a1b2c3d4", Kind: model.KindAction, Category: "Complaint"},
			want: "ACT-A1B2C3D4",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewSim().Execute(context.Background(), tc.task)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got.Outcome != model.OutcomeSucceeded || got.Reference != tc.want {
				t.Fatalf("result = %+v, want reference %q", got, tc.want)
			}
			if got.ExecutedAt.IsZero() {
				t.Fatal("ExecutedAt not stamped")
			}
		})
	}
}

func TestSimExecuteDeterministic(t *testing.T) {
	t.Parallel()

	task := model.Task{ID: "task-deadbeef", Kind: model.KindAction, Category: "Refund Request", OrderRef: "ORDER-12345"}
	first, err := NewSim().Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := NewSim().Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.Reference != second.Reference {
		t.Fatalf("references differ: %q vs %q", first.Reference, second.Reference)
	}
}

func TestNewSelectsExecutor(t *testing.T) {
	t.Parallel()

	if _, err := New(config.ActionConfig{}); err != nil {
		t.Fatalf("default executor: %v", err)
	}
	if _, err := New(config.ActionConfig{Type: "portal"}); err == nil {
		t.Fatal("unknown type accepted")
	}
	if _, err := New(config.ActionConfig{Type: "mcp"}); err == nil {
		t.Fatal("mcp without command accepted")
	}
	cfg := config.ActionConfig{Type: "mcp", MCP: config.MCPConfig{Command: "portal-server", Tool: "execute_task"}}
	if _, err := New(cfg); err != nil {
		t.Fatalf("mcp executor: %v", err)
	}
}
