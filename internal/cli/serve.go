package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/analyzer"
	"github.com/dmux-sh/dmux/internal/config"
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
)

// newServeCmd runs the HTTP facade without the dashboard, for driving dmux
// entirely from a browser or from scripts. The tmux session must already
// exist (start it with plain `dmux`).
func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API without the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (0 picks one)")
	return cmd
}

func runServe(port int) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	sessionName := session.Name(root)
	projectName := session.ProjectName(root)
	tm := tmux.NewClient()
	if !tm.HasSession(sessionName) {
		return fmt.Errorf("session %s not running; start it with `dmux`", sessionName)
	}

	logs := logring.New(logCapacity)
	settings, err := config.LoadSettings(root)
	if err != nil {
		logs.Warnf("config", "loading settings: %v (using defaults)", err)
	}
	toolCfg, err := config.LoadToolConfig()
	if err != nil {
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

	registry := action.NewRegistry()
	done := make(chan struct{})
	defer close(done)
	go registry.StartGC(time.Minute, done)

	streamer := stream.New(tm, logs)
	defer streamer.Stop()

	srv := server.New(store, streamer, controller, engine, tm, hookRunner, registry, logs)
	boundPort, err := srv.Start(port)
	if err != nil {
		return fmt.Errorf("starting http server: %w", err)
	}
	store.SetServerInfo(boundPort, fmt.Sprintf("http://127.0.0.1:%d", boundPort))
	controller.SetServerPort(boundPort)
	fmt.Printf("dmux API listening on http://127.0.0.1:%d\n", boundPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
