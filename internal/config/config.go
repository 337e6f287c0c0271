// Package config provides configuration loading and management for sidekick.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Pipeline  PipelineConfig  `json:"pipeline"  mapstructure:"pipeline"`
	Window    WindowConfig    `json:"window"    mapstructure:"window"`
	Generator GeneratorConfig `json:"generator" mapstructure:"generator"`
	Verifier  VerifierConfig  `json:"verifier"  mapstructure:"verifier"`
	Policy    PolicyConfig    `json:"policy"    mapstructure:"policy"`
	Action    ActionConfig    `json:"action"    mapstructure:"action"`
	Archive   ArchiveConfig   `json:"archive"   mapstructure:"archive"`
	HTTP      HTTPConfig      `json:"http"      mapstructure:"http"`
}

// PipelineConfig tunes the orchestration core.
type PipelineConfig struct {
	RetryMax        int     `json:"retry_max,omitempty"        mapstructure:"retry_max"`
	StageTimeout    int     `json:"stage_timeout,omitempty"    mapstructure:"stage_timeout"`
	AutoAdvance     *bool   `json:"auto_advance,omitempty"     mapstructure:"auto_advance"`
	DedupSimilarity float64 `json:"dedup_similarity,omitempty" mapstructure:"dedup_similarity"`
}

// StageTimeoutDuration returns the per-stage timeout, defaulting to 10s.
func (c PipelineConfig) StageTimeoutDuration() time.Duration {
	if c.StageTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.StageTimeout) * time.Second
}

// AutoAdvanceEnabled reports whether tasks run the pipeline without
// explicit advance calls. Defaults to true.
func (c PipelineConfig) AutoAdvanceEnabled() bool {
	return c.AutoAdvance == nil || *c.AutoAdvance
}

// WindowConfig selects the transcript window handed to the generator.
type WindowConfig struct {
	Strategy string `json:"strategy,omitempty" mapstructure:"strategy"`
	LastN    int    `json:"last_n,omitempty"   mapstructure:"last_n"`
}

// GeneratorConfig describes how candidate tasks are generated.
type GeneratorConfig struct {
	Type      string   `json:"type,omitempty"        mapstructure:"type"`
	Model     string   `json:"model,omitempty"       mapstructure:"model"`
	APIKeyEnv string   `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	BaseURL   string   `json:"base_url,omitempty"    mapstructure:"base_url"`
	Timeout   int      `json:"timeout,omitempty"     mapstructure:"timeout"`
	Cmd       []string `json:"cmd,omitempty"         mapstructure:"cmd"`
	UseTTY    *bool    `json:"use_tty,omitempty"     mapstructure:"use_tty"`
}

// VerifierConfig locates the knowledge base.
type VerifierConfig struct {
	DBPath string `json:"db_path,omitempty" mapstructure:"db_path"`
}

// PolicyConfig points at the eligibility rule catalog. An empty path uses
// the embedded default catalog.
type PolicyConfig struct {
	RulesPath string `json:"rules_path,omitempty" mapstructure:"rules_path"`
}

// ActionConfig selects the action executor.
type ActionConfig struct {
	Type string    `json:"type,omitempty" mapstructure:"type"`
	MCP  MCPConfig `json:"mcp,omitempty"  mapstructure:"mcp"`
}

// MCPConfig describes the MCP server used by the mcp action executor.
type MCPConfig struct {
	Command string   `json:"command,omitempty" mapstructure:"command"`
	Args    []string `json:"args,omitempty"    mapstructure:"args"`
	Tool    string   `json:"tool,omitempty"    mapstructure:"tool"`
	Timeout int      `json:"timeout,omitempty" mapstructure:"timeout"`
}

// ArchiveConfig controls transcript archiving. An empty dir disables it.
type ArchiveConfig struct {
	Dir string `json:"dir,omitempty" mapstructure:"dir"`
}

// HTTPConfig configures the serving surface.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty" mapstructure:"addr"`
}
