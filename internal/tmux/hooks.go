package tmux

import (
	"fmt"
	"path/filepath"
)

// HookNames are the tmux hooks the pane event bus listens to.
var HookNames = []string{
	"session-window-changed",
	"window-pane-changed",
	"pane-exited",
	"client-session-changed",
}

// TriggerFile is the file tmux hooks append event names to. The event bus
// watches it with fsnotify, so an event fires within the watcher latency
// rather than a poll interval.
func TriggerFile(runtimeDir string) string {
	return filepath.Join(runtimeDir, "pane-events")
}

// InstallHooks installs session-scoped hooks that append the hook name to
// the trigger file. Existing hook bindings for the same names are replaced.
func (c *Client) InstallHooks(session, runtimeDir string) error {
	trigger := TriggerFile(runtimeDir)
	for _, name := range HookNames {
		cmd := fmt.Sprintf("run-shell 'echo %s >> %q'", name, trigger)
		if err := c.mutate("set-hook", "-t", session, name, cmd); err != nil {
			return fmt.Errorf("installing hook %s: %w", name, err)
		}
	}
	return nil
}

// UninstallHooks removes the hook bindings by name.
func (c *Client) UninstallHooks(session string) error {
	var firstErr error
	for _, name := range HookNames {
		if err := c.mutate("set-hook", "-u", "-t", session, name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing hook %s: %w", name, err)
		}
	}
	return firstErr
}
