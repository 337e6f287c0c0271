package main

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/evanwires/sidekick/internal/action"
	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/generate"
	"github.com/evanwires/sidekick/internal/kb"
	"github.com/evanwires/sidekick/internal/policy"
	"github.com/evanwires/sidekick/internal/transcript"
	"github.com/evanwires/sidekick/internal/verify"
)

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

func kbPath(cfg config.Config) string {
	if cfg.Verifier.DBPath != "" {
		return cfg.Verifier.DBPath
	}
	return filepath.Join(".sidekick", "kb.db")
}

func openKB(cfg config.Config) (*sql.DB, func(), error) {
	path := kbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, func() {}, err
	}
	db, err := kb.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return db, func() { _ = db.Close() }, nil
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		RetryMax:        cfg.Pipeline.RetryMax,
		StageTimeout:    cfg.Pipeline.StageTimeoutDuration(),
		AutoAdvance:     cfg.Pipeline.AutoAdvanceEnabled(),
		DedupSimilarity: cfg.Pipeline.DedupSimilarity,
		WindowStrategy:  cfg.Window.Strategy,
		WindowLastN:     cfg.Window.LastN,
	}
}

// buildDeps assembles the engine adapters from config over an opened
// knowledge base. Observer is left to the caller.
func buildDeps(cfg config.Config, db *sql.DB) (engine.Deps, error) {
	gen, err := generate.New(cfg.Generator)
	if err != nil {
		return engine.Deps{}, err
	}
	pol, err := policy.New(cfg.Policy.RulesPath)
	if err != nil {
		return engine.Deps{}, err
	}
	act, err := action.New(cfg.Action)
	if err != nil {
		return engine.Deps{}, err
	}
	deps := engine.Deps{
		Generator: gen,
		Verifier:  verify.New(kb.NewStore(db)),
		Policy:    pol,
		Action:    act,
	}
	if cfg.Archive.Dir != "" {
		deps.Archiver = transcript.NewArchiver(cfg.Archive.Dir)
	}
	return deps, nil
}
