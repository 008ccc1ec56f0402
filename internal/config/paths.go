// Package config defines the on-disk layout, project and global settings,
// and the canonical agent identifier set.
package config

import (
	"os"
	"path/filepath"
)

// Project-relative layout. The .dmux directory under the project root holds
// everything dmux writes for that project.
const (
	ProjectDirName = ".dmux"
	HooksDirName   = ".dmux-hooks"
)

// ProjectDir returns <root>/.dmux.
func ProjectDir(projectRoot string) string {
	return filepath.Join(projectRoot, ProjectDirName)
}

// ConfigFilePath returns the authoritative pane-list file.
func ConfigFilePath(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "dmux.config.json")
}

// SettingsFilePath returns the project-scope settings file.
func SettingsFilePath(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "settings.json")
}

// WorktreesDir returns the directory pane worktrees are created under.
func WorktreesDir(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "worktrees")
}

// RuntimeDir returns the directory for runtime artifacts (hook trigger
// files, prompt temp files).
func RuntimeDir(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "runtime")
}

// LocalHooksDir returns <root>/.dmux/hooks (per-user override scripts).
func LocalHooksDir(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "hooks")
}

// TeamHooksDir returns <root>/.dmux-hooks (committed team scripts).
func TeamHooksDir(projectRoot string) string {
	return filepath.Join(projectRoot, HooksDirName)
}

// GlobalSettingsPath returns ~/.dmux.global.json.
func GlobalSettingsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dmux.global.json")
}

// GlobalHooksDir returns ~/.dmux/hooks.
func GlobalHooksDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dmux", "hooks")
}

// OnboardingPath returns ~/.dmux/onboarding.json.
func OnboardingPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dmux", "onboarding.json")
}

// ToolConfigPath returns the optional TOML tool config.
func ToolConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dmux", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dmux", "config.toml")
}
