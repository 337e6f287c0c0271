package main

import (
	"github.com/spf13/cobra"

	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/tui"
)

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "console",
		Short:        "Start the interactive agent console",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, closeFn, err := openKB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			deps, err := buildDeps(cfg, db)
			if err != nil {
				return err
			}
			eng, err := engine.New(engineConfig(cfg), deps)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			return tui.Run(eng)
		},
	}
}
