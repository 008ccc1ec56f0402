package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ToolConfig is the optional per-user TOML config. It tunes behaviour that
// is not part of the project settings contract: agent launch command
// overrides and analyzer/poll intervals.
type ToolConfig struct {
	Agents    AgentCommands `toml:"agents"`
	Intervals Intervals     `toml:"intervals"`
}

// AgentCommands overrides the command used to launch each agent.
type AgentCommands struct {
	Claude   string `toml:"claude"`
	Opencode string `toml:"opencode"`
	Codex    string `toml:"codex"`
}

// Intervals tunes background loop timing. Values are in milliseconds to keep
// the file free of duration-string parsing.
type Intervals struct {
	PollMs          int `toml:"poll_ms"`
	AnalyzeWorkMs   int `toml:"analyze_working_ms"`
	AnalyzeIdleMs   int `toml:"analyze_idle_ms"`
	StreamCaptureMs int `toml:"stream_capture_ms"`
}

// DefaultToolConfig returns the built-in defaults.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Intervals: Intervals{
			PollMs:          5000,
			AnalyzeWorkMs:   1000,
			AnalyzeIdleMs:   2000,
			StreamCaptureMs: 250,
		},
	}
}

// LoadToolConfig reads the TOML tool config, falling back to defaults when
// the file is absent.
func LoadToolConfig() (ToolConfig, error) {
	return loadToolConfig(ToolConfigPath())
}

func loadToolConfig(path string) (ToolConfig, error) {
	cfg := DefaultToolConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DefaultToolConfig(), fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// PollInterval returns the pane poll interval, clamped to the 1 s minimum.
func (c ToolConfig) PollInterval() time.Duration {
	d := time.Duration(c.Intervals.PollMs) * time.Millisecond
	if d < time.Second {
		return time.Second
	}
	return d
}

// CommandFor returns the launch command for an agent, honouring overrides.
func (c ToolConfig) CommandFor(a Agent) string {
	switch a {
	case AgentClaude:
		if c.Agents.Claude != "" {
			return c.Agents.Claude
		}
	case AgentOpencode:
		if c.Agents.Opencode != "" {
			return c.Agents.Opencode
		}
	case AgentCodex:
		if c.Agents.Codex != "" {
			return c.Agents.Codex
		}
	}
	return a.Command()
}
