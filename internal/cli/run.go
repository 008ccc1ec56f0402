package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/analyzer"
	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/events"
	"github.com/dmux-sh/dmux/internal/git"
	"github.com/dmux-sh/dmux/internal/hooks"
	"github.com/dmux-sh/dmux/internal/lifecycle"
	"github.com/dmux-sh/dmux/internal/llm"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/merge"
	"github.com/dmux-sh/dmux/internal/server"
	"github.com/dmux-sh/dmux/internal/session"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/stream"
	"github.com/dmux-sh/dmux/internal/tmux"
	"github.com/dmux-sh/dmux/internal/tui"
)

const logCapacity = 2000

// devServerPort is the fixed HTTP port used when DMUX_DEV is set, so a
// dashboard dev server has a stable target.
const devServerPort = 8765

// runRoot is the bare `dmux` flow. Outside the project session it creates
// the session (first pane re-runs dmux) and attaches; inside it becomes the
// control pane and runs the dashboard.
func runRoot() error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("dmux needs an interactive terminal; use `dmux serve` for headless use")
	}
	if !tmux.IsInstalled() {
		return fmt.Errorf("tmux not found on PATH; run `dmux doctor`")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := git.Root(cwd)
	if err != nil {
		return fmt.Errorf("dmux needs a git repository: %w", err)
	}
	sessionName := session.Name(root)
	tm := tmux.NewClient()

	if insideSession(tm, sessionName) {
		return runControlPane(root, sessionName, tm)
	}
	if err := ensureSession(tm, root, sessionName); err != nil {
		return err
	}
	return tm.AttachOrSwitch(sessionName)
}

func insideSession(tm *tmux.Client, sessionName string) bool {
	if !tmux.InTmux() {
		return false
	}
	current, err := tm.DisplayMessage("#{session_name}")
	return err == nil && current == sessionName
}

// ensureSession creates the detached session with dmux running in its first
// pane, so attaching lands straight in the dashboard.
func ensureSession(tm *tmux.Client, root, sessionName string) error {
	if tm.HasSession(sessionName) {
		return nil
	}
	if err := tm.NewSession(sessionName, root); err != nil {
		return fmt.Errorf("creating session %s: %w", sessionName, err)
	}
	if err := tm.SetSessionOption(sessionName, "pane-border-status", "top"); err != nil {
		return err
	}
	panes, err := tm.ListPanes(sessionName)
	if err != nil || len(panes) == 0 {
		return fmt.Errorf("session %s has no panes: %w", sessionName, err)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "dmux"
	}
	return tm.SendShellCommand(panes[0].PaneID, "exec "+shellQuote(exe))
}

func shellQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

func runControlPane(root, sessionName string, tm *tmux.Client) error {
	projectName := session.ProjectName(root)
	logs := logring.New(logCapacity)
	toasts := logring.NewToaster(logs)

	settings, err := config.LoadSettings(root)
	if err != nil {
		logs.Warnf("config", "loading settings: %v (using defaults)", err)
	}
	toolCfg, err := config.LoadToolConfig()
	if err != nil {
		logs.Warnf("config", "loading tool config: %v (using defaults)", err)
		toolCfg = config.DefaultToolConfig()
	}

	store := state.New(root, projectName, sessionName)
	store.SetSettings(settings)
	watcher, err := state.NewWatcher(store, logs)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Close()
	watcher.Start()

	gitc := git.NewClient(root)
	chain := llm.NewChain(logs, llm.NewClaudeCLI(), llm.NewOpenRouter(), llm.NewCodexCLI())
	hookRunner := hooks.NewRunner(root, logs)
	analyze := analyzer.New(tm, chain, store, tm, logs)
	defer analyze.Stop()
	controller := lifecycle.New(tm, gitc, store, chain, hookRunner, analyze, logs, sessionName, toolCfg)
	engine := merge.New(gitc, tm, store, chain, hookRunner, controller, logs, toolCfg)

	if paneID := tm.CurrentPaneID(); paneID != "" {
		if err := store.SetControlPane(paneID); err != nil {
			logs.Warnf("cli", "recording control pane: %v", err)
		}
		if err := tm.SetPaneTitle(paneID, "dmux-"+projectName); err != nil {
			logs.Warnf("cli", "titling control pane: %v", err)
		}
	}

	bus := events.New(tm, sessionName, config.RuntimeDir(root), logs)
	bus.SetPollInterval(toolCfg.PollInterval())
	defer bus.Subscribe(controller.HandleEvent)()
	if _, err := bus.Start(settings.HooksEnabled()); err != nil {
		logs.Warnf("events", "starting event bus: %v", err)
	}
	defer bus.Stop()

	streamer := stream.New(tm, logs)
	defer streamer.Stop()
	registry := action.NewRegistry()
	done := make(chan struct{})
	defer close(done)
	go registry.StartGC(time.Minute, done)
	go sweepCloseLocks(store, done)

	srv := server.New(store, streamer, controller, engine, tm, hookRunner, registry, logs)
	port := 0
	if os.Getenv("DMUX_DEV") != "" {
		port = devServerPort
	}
	boundPort, err := srv.Start(port)
	if err != nil {
		return fmt.Errorf("starting http server: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()
	store.SetServerInfo(boundPort, fmt.Sprintf("http://127.0.0.1:%d", boundPort))
	controller.SetServerPort(boundPort)

	for _, pane := range store.Panes() {
		if pane.Agent != "" {
			analyze.Track(pane.ID)
		}
	}

	if firstRun() {
		toasts.Push("Welcome to dmux — press n to start your first agent", logring.LevelInfo)
	}

	return tui.Run(store, logs, toasts, controller, engine, analyze)
}

func sweepCloseLocks(store *state.Store, done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			store.SweepCloseLocks()
		}
	}
}

// firstRun reports whether the onboarding flag file is absent, and writes it
// so the hint shows once per machine.
func firstRun() bool {
	path := config.OnboardingPath()
	if _, err := os.Stat(path); err == nil {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}
	data, _ := json.Marshal(map[string]any{
		"welcomeShown": true,
		"at":           time.Now().UTC().Format(time.RFC3339),
	})
	_ = os.WriteFile(path, data, 0o644)
	return true
}
