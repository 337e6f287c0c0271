package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evanwires/sidekick/internal/model"
)

func TestParseScriptLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		speaker model.Speaker
		text    string
		wantErr bool
	}{
		{line: "customer: where is my order?", speaker: model.SpeakerCustomer, text: "where is my order?"},
		{line: "agent:  let me check", speaker: model.SpeakerAgent, text: "let me check"},
		{line: "no separator here", wantErr: true},
		{line: "narrator: hello", wantErr: true},
	}
	for _, tc := range tests {
		speaker, text, err := parseScriptLine(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseScriptLine(%q) accepted", tc.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseScriptLine(%q): %v", tc.line, err)
		}
		if speaker != tc.speaker || text != tc.text {
			t.Fatalf("parseScriptLine(%q) = %q, %q", tc.line, speaker, text)
		}
	}
}

func TestReadScriptSkipsBlankLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.txt")
	content := "customer: hello\n\n  \nagent: hi\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	lines, err := readScript(path)
	if err != nil {
		t.Fatalf("readScript: %v", err)
	}
	if len(lines) != 2 || lines[0] != "customer: hello" || lines[1] != "agent: hi" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestSettled(t *testing.T) {
	t.Parallel()

	snap := model.SessionSnapshot{Tasks: []model.Task{
		{ID: "a", State: model.TaskCompleted},
		{ID: "b", State: model.TaskIneligible},
	}}
	if !settled(snap, true) {
		t.Fatal("terminal tasks not settled")
	}

	snap.Tasks = append(snap.Tasks, model.Task{ID: "c", State: model.TaskVerifying})
	if settled(snap, false) {
		t.Fatal("in-flight task counted as settled")
	}

	snap.Tasks = []model.Task{{ID: "d", State: model.TaskAwaitingApproval}}
	if settled(snap, true) {
		t.Fatal("approvable task counted as settled with approve-all")
	}
	if !settled(snap, false) {
		t.Fatal("awaiting task blocks settle without approve-all")
	}
}
