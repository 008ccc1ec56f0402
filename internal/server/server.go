// Package server exposes dmux over HTTP for the web dashboard and hook
// scripts. Everything is JSON; the terminal stream is NDJSON with one framed
// message per line.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/lifecycle"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
	"github.com/dmux-sh/dmux/internal/stream"
	"github.com/dmux-sh/dmux/internal/tmux"
)

// PaneOps is the lifecycle surface the facade dispatches to.
type PaneOps interface {
	Create(ctx context.Context, opts lifecycle.CreateOptions) (lifecycle.CreateResult, error)
	ClosePane(paneID string) action.Result
	Rename(paneID string) action.Result
	Duplicate(ctx context.Context, paneID string) action.Result
	OpenInEditor(paneID string) action.Result
	CopyPath(paneID string) action.Result
	ToggleAutopilot(paneID string) action.Result
	FocusPane(paneID string) action.Result
	RunTests(paneID string) action.Result
	RunDev(paneID string) action.Result
}

// Merger starts merge flows.
type Merger interface {
	Merge(ctx context.Context, paneID, target string) action.Result
}

// TermOps is the tmux surface for snapshots and key delivery.
type TermOps interface {
	SendKeySpec(paneID string, spec tmux.KeySpec) error
	CapturePane(paneID string, lastN int) (string, error)
	CursorPosition(paneID string) (row, col int, err error)
}

// HookInfo reports installed hooks.
type HookInfo interface {
	Installed() []string
}

// Server is the HTTP facade.
type Server struct {
	store    *state.Store
	streamer *stream.Streamer
	panes    PaneOps
	merger   Merger
	term     TermOps
	hooks    HookInfo
	registry *action.Registry
	logs     *logring.Ring

	// TunnelOpener turns a local port into a shareable URL. Nil disables
	// tunnelling.
	TunnelOpener func(port int) (string, error)

	httpServer *http.Server
	port       int
	tunnelURL  string
}

// New wires the facade. Any nil collaborator disables its routes with 503s
// rather than panicking, which keeps partial setups (tests, doctor) usable.
func New(store *state.Store, streamer *stream.Streamer, panes PaneOps, merger Merger, term TermOps, hookInfo HookInfo, registry *action.Registry, logs *logring.Ring) *Server {
	return &Server{
		store:    store,
		streamer: streamer,
		panes:    panes,
		merger:   merger,
		term:     term,
		hooks:    hookInfo,
		registry: registry,
		logs:     logs,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/panes", s.handlePanes)
	mux.HandleFunc("POST /api/panes", s.handleCreatePane)
	mux.HandleFunc("GET /api/panes/{id}", s.handlePane)
	mux.HandleFunc("GET /api/panes/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("PUT /api/panes/{id}/test", s.handlePutTest)
	mux.HandleFunc("PUT /api/panes/{id}/dev", s.handlePutDev)
	mux.HandleFunc("GET /api/panes/{id}/actions", s.handlePaneActions)
	mux.HandleFunc("POST /api/panes/{id}/actions/{actionId}", s.handleRunAction)
	mux.HandleFunc("GET /api/stream/{id}", s.handleStream)
	mux.HandleFunc("GET /api/stream-stats", s.handleStreamStats)
	mux.HandleFunc("POST /api/keys/{id}", s.handleKeys)
	mux.HandleFunc("GET /api/actions", s.handleActionCatalog)
	mux.HandleFunc("POST /api/callbacks/confirm/{id}", s.handleConfirmCallback)
	mux.HandleFunc("POST /api/callbacks/choice/{id}", s.handleChoiceCallback)
	mux.HandleFunc("POST /api/callbacks/input/{id}", s.handleInputCallback)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /api/settings", s.handlePatchSettings)
	mux.HandleFunc("GET /api/hooks", s.handleHooks)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/logs/mark-read", s.handleMarkRead)

	return withCORS(mux)
}

// Start listens on the port (0 picks one) and serves in the background.
func (s *Server) Start(port int) (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return 0, fmt.Errorf("binding http server: %w", err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed && s.logs != nil {
			s.logs.Errorf("server", "http server: %v", err)
		}
	}()
	if s.TunnelOpener != nil {
		url, err := s.TunnelOpener(s.port)
		if err != nil {
			if s.logs != nil {
				s.logs.Warnf("server", "opening tunnel: %v", err)
			}
		} else {
			s.tunnelURL = url
		}
	}
	return s.port, nil
}

// TunnelURL returns the shareable URL, empty without a tunnel.
func (s *Server) TunnelURL() string { return s.tunnelURL }

// Port returns the bound port after Start.
func (s *Server) Port() int { return s.port }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"projectName": snap.ProjectName,
		"sessionName": snap.SessionName,
		"projectRoot": snap.ProjectRoot,
		"settings":    snap.Settings,
		"paneCount":   len(snap.Panes),
		"serverUrl":   snap.ServerURL,
		"tunnelUrl":   s.tunnelURL,
	})
}

func (s *Server) handlePanes(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"panes":       snap.Panes,
		"projectName": snap.ProjectName,
		"sessionName": snap.SessionName,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreatePane(w http.ResponseWriter, r *http.Request) {
	if s.panes == nil {
		writeError(w, http.StatusServiceUnavailable, "pane operations unavailable")
		return
	}
	var body struct {
		Prompt    string `json:"prompt"`
		Agent     string `json:"agent"`
		Autopilot *bool  `json:"autopilot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	res, err := s.panes.Create(r.Context(), lifecycle.CreateOptions{
		Prompt:    body.Prompt,
		Agent:     body.Agent,
		Autopilot: body.Autopilot,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if res.NeedsAgentChoice {
		writeJSON(w, http.StatusOK, map[string]any{
			"needsAgentChoice": true,
			"availableAgents":  res.AvailableAgents,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pane": res.Pane})
}

func (s *Server) findPane(w http.ResponseWriter, r *http.Request) (state.Pane, bool) {
	id := r.PathValue("id")
	pane, ok := s.store.PaneByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pane %s not found", id)
		return state.Pane{}, false
	}
	return pane, true
}

func (s *Server) handlePane(w http.ResponseWriter, r *http.Request) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pane)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	content, err := s.term.CapturePane(pane.TmuxPaneID, 0)
	if err != nil {
		writeError(w, http.StatusBadGateway, "capturing pane: %v", err)
		return
	}
	row, col, _ := s.term.CursorPosition(pane.TmuxPaneID)
	writeJSON(w, http.StatusOK, map[string]any{
		"content":   content,
		"cursorRow": row,
		"cursorCol": col,
	})
}

func (s *Server) handlePutTest(w http.ResponseWriter, r *http.Request) {
	s.putPaneStatus(w, r, func(p *state.Pane, status, url string) {
		p.TestStatus = state.TestStatus(status)
	})
}

func (s *Server) handlePutDev(w http.ResponseWriter, r *http.Request) {
	s.putPaneStatus(w, r, func(p *state.Pane, status, url string) {
		p.DevStatus = state.DevStatus(status)
		if url != "" {
			p.DevURL = url
		}
	})
}

func (s *Server) putPaneStatus(w http.ResponseWriter, r *http.Request, apply func(*state.Pane, string, string)) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	if body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if _, err := s.store.UpdatePane(pane.ID, func(p *state.Pane) {
		apply(p, body.Status, body.URL)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	var spec tmux.KeySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	if err := s.term.SendKeySpec(pane.TmuxPaneID, spec); err != nil {
		writeError(w, http.StatusBadGateway, "sending keys: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.streamer.GetStats())
}

// handleStream serves the NDJSON terminal stream. The connection stays open
// until the client goes away; the streamer notices via write errors and the
// request context tears the subscription down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var sink flushWriter
	sink.w = w
	if canFlush {
		sink.flush = flusher.Flush
	}
	unsub, err := s.streamer.Subscribe(pane.TmuxPaneID, &sink)
	if err != nil {
		// Headers are gone; all we can do is drop the connection.
		return
	}
	defer unsub()
	<-r.Context().Done()
}

type flushWriter struct {
	w     http.ResponseWriter
	flush func()
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil && f.flush != nil {
		f.flush()
	}
	return n, err
}
