package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmux-sh/dmux/internal/git"
)

// Settings are the recognised project/global settings keys. Project values
// override global ones key by key.
type Settings struct {
	PermissionMode           string `json:"permissionMode,omitempty"`
	EnableAutopilotByDefault bool   `json:"enableAutopilotByDefault,omitempty"`
	DefaultAgent             string `json:"defaultAgent,omitempty"`
	SlugProvider             string `json:"slugProvider,omitempty"`
	UseTmuxHooks             *bool  `json:"useTmuxHooks,omitempty"`
	BaseBranch               string `json:"baseBranch,omitempty"`
	BranchPrefix             string `json:"branchPrefix,omitempty"`
}

// HooksEnabled returns whether tmux hook mode is preferred (default true).
func (s Settings) HooksEnabled() bool {
	if s.UseTmuxHooks == nil {
		return true
	}
	return *s.UseTmuxHooks
}

var validPermissionModes = map[string]bool{
	"": true, "plan": true, "acceptEdits": true, "bypassPermissions": true,
}

var validSlugProviders = map[string]bool{
	"": true, "auto": true, "openrouter": true, "claude": true, "codex": true,
}

// Validate checks every recognised key.
func (s Settings) Validate() error {
	if !validPermissionModes[s.PermissionMode] {
		return fmt.Errorf("invalid permissionMode %q", s.PermissionMode)
	}
	if _, err := ParseAgent(s.DefaultAgent); err != nil {
		return fmt.Errorf("invalid defaultAgent: %w", err)
	}
	if !validSlugProviders[s.SlugProvider] {
		return fmt.Errorf("invalid slugProvider %q", s.SlugProvider)
	}
	if s.BaseBranch != "" {
		if err := git.ValidateBranchName(s.BaseBranch); err != nil {
			return fmt.Errorf("invalid baseBranch: %w", err)
		}
	}
	if err := git.ValidateBranchPrefix(s.BranchPrefix); err != nil {
		return fmt.Errorf("invalid branchPrefix: %w", err)
	}
	return nil
}

// Merge overlays project settings onto global ones. Zero values in the
// project layer leave the global value in place.
func Merge(global, project Settings) Settings {
	out := global
	if project.PermissionMode != "" {
		out.PermissionMode = project.PermissionMode
	}
	if project.EnableAutopilotByDefault {
		out.EnableAutopilotByDefault = true
	}
	if project.DefaultAgent != "" {
		out.DefaultAgent = project.DefaultAgent
	}
	if project.SlugProvider != "" {
		out.SlugProvider = project.SlugProvider
	}
	if project.UseTmuxHooks != nil {
		out.UseTmuxHooks = project.UseTmuxHooks
	}
	if project.BaseBranch != "" {
		out.BaseBranch = project.BaseBranch
	}
	if project.BranchPrefix != "" {
		out.BranchPrefix = project.BranchPrefix
	}
	return out
}

// LoadSettings reads and merges global and project settings. Missing files
// yield zero settings; malformed files are an error.
func LoadSettings(projectRoot string) (Settings, error) {
	global, err := readSettingsFile(GlobalSettingsPath())
	if err != nil {
		return Settings{}, fmt.Errorf("global settings: %w", err)
	}
	project, err := readSettingsFile(SettingsFilePath(projectRoot))
	if err != nil {
		return Settings{}, fmt.Errorf("project settings: %w", err)
	}
	merged := Merge(global, project)
	if err := merged.Validate(); err != nil {
		return Settings{}, err
	}
	return merged, nil
}

func readSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// SaveProjectSettings writes the project settings file.
func SaveProjectSettings(projectRoot string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	path := SettingsFilePath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Patch applies a partial JSON settings document on top of s, touching only
// keys present in the document. Used by PATCH /api/settings.
func (s Settings) Patch(raw []byte) (Settings, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Settings{}, fmt.Errorf("parsing settings patch: %w", err)
	}
	out := s
	if err := json.Unmarshal(raw, &out); err != nil {
		return Settings{}, fmt.Errorf("applying settings patch: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}
