package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/kb"
	"github.com/evanwires/sidekick/internal/model"
)

// demoScript mirrors a typical support call against the seeded dataset.
var demoScript = []string{
	"customer: Hi, my name is Jane Smith",
	"agent: Hello Jane, how can I help you today?",
	"customer: I ordered a blender last week, it's ORDER-12345",
	"customer: It arrived broken and I want a refund",
	"agent: I'm sorry to hear that, let me look into it",
	"customer: Also, where is my other order? It's order 67890",
}

func simulateCmd() *cobra.Command {
	var scriptPath string
	var approveAll bool
	var wait time.Duration
	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Run a scripted conversation through the pipeline",
		Long:         "Run a scripted conversation through the local pipeline with the deterministic generator and the simulated portal, printing every event.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// The simulation is self-contained: no network adapters.
			cfg.Generator.Type = "rules"
			cfg.Action.Type = "sim"

			db, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := kb.Seed(cmd.Context(), db); err != nil {
				return err
			}

			deps, err := buildDeps(cfg, db)
			if err != nil {
				return err
			}
			eng, err := engine.New(engineConfig(cfg), deps)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			script := demoScript
			if scriptPath != "" {
				script, err = readScript(scriptPath)
				if err != nil {
					return err
				}
			}
			return runSimulation(cmd.Context(), eng, script, approveAll, wait)
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "script file (speaker: text per line)")
	cmd.Flags().BoolVar(&approveAll, "approve-all", false, "approve every task that reaches the approval gate")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for the pipeline to settle")
	return cmd
}

func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func runSimulation(ctx context.Context, eng *engine.Engine, script []string, approveAll bool, wait time.Duration) error {
	events, cancel := eng.Subscribe()
	defer cancel()

	for i, line := range script {
		speaker, text, err := parseScriptLine(line)
		if err != nil {
			return err
		}
		if _, err := eng.AppendUtterance(speaker, text, uint64(i+1)); err != nil {
			return err
		}
		fmt.Printf("%-8s | %s\n", speaker, text)
	}

	res, err := eng.RequestAssistance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("assist: %d created, %d duplicates, %d rejected\n", res.Created, res.Duplicates, res.Rejected)

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for !settled(eng.Snapshot(), approveAll) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			fmt.Println("timed out waiting for the pipeline to settle")
			return printSummary(eng.Snapshot())
		case ev := <-events:
			printEvent(ev)
			if approveAll && ev.Task != nil &&
				ev.Task.State == model.TaskAwaitingApproval && !ev.Task.Approved {
				if err := eng.Approve(ev.Task.ID); err != nil {
					fmt.Printf("approve %s: %v\n", ev.Task.ID, err)
				}
			}
		}
	}
	return printSummary(eng.Snapshot())
}

func parseScriptLine(line string) (model.Speaker, string, error) {
	label, text, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", fmt.Errorf("script line %q is not speaker: text", line)
	}
	speaker, err := model.ParseSpeaker(label)
	if err != nil {
		return "", "", fmt.Errorf("script line %q: %w", line, err)
	}
	return speaker, strings.TrimSpace(text), nil
}

func printEvent(ev engine.Event) {
	switch {
	case ev.Task != nil:
		fmt.Printf("%-20s %s %s\n", ev.Type, ev.Task.ID, ev.Task.State)
	case ev.Utterance != nil:
		fmt.Printf("%-20s seq %d\n", ev.Type, ev.Utterance.Seq)
	default:
		fmt.Printf("%-20s\n", ev.Type)
	}
}

// settled reports whether no task can make further progress on its own.
func settled(snap model.SessionSnapshot, approveAll bool) bool {
	for _, t := range snap.Tasks {
		switch t.State {
		case model.TaskCompleted, model.TaskFailed, model.TaskRejected,
			model.TaskIneligible, model.TaskStalled:
		case model.TaskAwaitingApproval:
			if approveAll {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func printSummary(snap model.SessionSnapshot) error {
	fmt.Printf("\nsession %s: %d tasks\n", snap.SessionID, len(snap.Tasks))
	for _, t := range snap.Tasks {
		line := fmt.Sprintf("  %-14s %-18s %-16s %s", t.ID, t.State, t.Category, t.Description)
		if t.Action != nil {
			line += " [" + t.Action.Reference + "]"
		}
		if t.LastError != nil {
			line += " (" + t.LastError.Kind + ")"
		}
		fmt.Println(line)
	}
	return nil
}
