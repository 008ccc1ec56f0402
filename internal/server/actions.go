package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmux-sh/dmux/internal/action"
	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/logring"
	"github.com/dmux-sh/dmux/internal/state"
)

// handleActionCatalog lists every action id the facade can dispatch.
func (s *Server) handleActionCatalog(w http.ResponseWriter, r *http.Request) {
	// A worktree pane sees the full menu; use one to enumerate it.
	catalog := action.Available(state.Pane{WorktreePath: "/"}, s.store.Settings())
	writeJSON(w, http.StatusOK, map[string]any{"actions": catalog})
}

func (s *Server) handlePaneActions(w http.ResponseWriter, r *http.Request) {
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paneId":  pane.ID,
		"actions": action.Available(pane, s.store.Settings()),
	})
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	if s.panes == nil {
		writeError(w, http.StatusServiceUnavailable, "pane operations unavailable")
		return
	}
	pane, ok := s.findPane(w, r)
	if !ok {
		return
	}

	var result action.Result
	switch actionID := r.PathValue("actionId"); actionID {
	case action.ActionView:
		result = s.panes.FocusPane(pane.ID)
	case action.ActionClose:
		result = s.panes.ClosePane(pane.ID)
	case action.ActionRename:
		result = s.panes.Rename(pane.ID)
	case action.ActionDuplicate:
		result = s.panes.Duplicate(r.Context(), pane.ID)
	case action.ActionMerge:
		if s.merger == nil {
			writeError(w, http.StatusServiceUnavailable, "merge unavailable")
			return
		}
		result = s.merger.Merge(r.Context(), pane.ID, "")
	case action.ActionOpenInEditor:
		result = s.panes.OpenInEditor(pane.ID)
	case action.ActionCopyPath:
		result = s.panes.CopyPath(pane.ID)
	case action.ActionToggleAutopilot:
		result = s.panes.ToggleAutopilot(pane.ID)
	case action.ActionRunTests:
		result = s.panes.RunTests(pane.ID)
	case action.ActionRunDev:
		result = s.panes.RunDev(pane.ID)
	default:
		writeError(w, http.StatusNotFound, "unknown action %q", actionID)
		return
	}

	writeJSON(w, http.StatusOK, s.registry.Materialise(result))
}

func (s *Server) resolveCallback(w http.ResponseWriter, result action.Result, err error) {
	switch {
	case errors.Is(err, action.ErrCallbackNotFound):
		writeError(w, http.StatusNotFound, "callback not found or expired")
	case errors.Is(err, action.ErrWrongKind):
		writeError(w, http.StatusBadRequest, "callback kind mismatch")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleConfirmCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	result, err := s.registry.ResolveConfirm(r.PathValue("id"), body.Confirmed)
	s.resolveCallback(w, result, err)
}

func (s *Server) handleChoiceCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptionID string `json:"optionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	result, err := s.registry.ResolveChoice(r.PathValue("id"), body.OptionID)
	s.resolveCallback(w, result, err)
}

func (s *Server) handleInputCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	result, err := s.registry.ResolveInput(r.PathValue("id"), body.Value)
	s.resolveCallback(w, result, err)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Settings())
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	patched, err := s.store.Settings().Patch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := config.SaveProjectSettings(s.store.ProjectRoot(), patched); err != nil {
		writeError(w, http.StatusInternalServerError, "saving settings: %v", err)
		return
	}
	s.store.SetSettings(patched)
	writeJSON(w, http.StatusOK, patched)
}

func (s *Server) handleHooks(w http.ResponseWriter, r *http.Request) {
	var installed []string
	if s.hooks != nil {
		installed = s.hooks.Installed()
	}
	if installed == nil {
		installed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"installed": installed})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logring.Filter{
		Level:      logring.Level(q.Get("level")),
		Source:     q.Get("source"),
		PaneID:     q.Get("paneId"),
		UnreadOnly: q.Get("unread") == "true",
	}
	entries := s.logs.Query(filter)
	if entries == nil {
		entries = []logring.Entry{}
	}
	warnings, errorCount := s.logs.UnreadCounts()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":      entries,
		"unreadWarns":  warnings,
		"unreadErrors": errorCount,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID    string `json:"id"`
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing body: %v", err)
		return
	}
	switch {
	case body.ID != "":
		if !s.logs.MarkAsRead(body.ID) {
			writeError(w, http.StatusNotFound, "log entry %s not found", body.ID)
			return
		}
	case body.Level != "":
		s.logs.MarkLevelAsRead(logring.Level(body.Level))
	default:
		writeError(w, http.StatusBadRequest, "id or level is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
