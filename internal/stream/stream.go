// Package stream mirrors live pane content to HTTP subscribers. Each pane
// with at least one subscriber gets a capture loop that diffs successive
// escape-sequence captures and pushes line-framed messages: INIT on attach,
// PATCH on change, RESIZE on geometry change, HEARTBEAT to keep the
// connection warm. The wire format is "TYPE:<json>\n".
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/dmux-sh/dmux/internal/logring"
)

// Message types.
const (
	TypeInit      = "INIT"
	TypePatch     = "PATCH"
	TypeResize    = "RESIZE"
	TypeHeartbeat = "HEARTBEAT"
)

// Loop timing.
const (
	DefaultCaptureInterval   = 250 * time.Millisecond
	DefaultHeartbeatInterval = 30 * time.Second
)

// Terminal is the slice of the tmux adapter the streamer captures through.
type Terminal interface {
	CapturePaneEscapes(paneID string) (string, error)
	CursorPosition(paneID string) (row, col int, err error)
	PaneGeometry(paneID string) (width, height int, err error)
}

// InitPayload seeds a fresh subscriber with the full screen.
type InitPayload struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Content   string `json:"content"`
	CursorRow int    `json:"cursorRow"`
	CursorCol int    `json:"cursorCol"`
}

// PatchPayload carries a diff-match-patch text patch against the prior
// screen, plus the cursor after applying it.
type PatchPayload struct {
	Patch     string `json:"patch"`
	CursorRow int    `json:"cursorRow"`
	CursorCol int    `json:"cursorCol"`
}

// ResizePayload announces new pane geometry.
type ResizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HeartbeatPayload is an empty keepalive.
type HeartbeatPayload struct {
	Timestamp int64 `json:"ts"`
}

// PaneStats is the per-pane counter snapshot.
type PaneStats struct {
	Subscribers int   `json:"subscribers"`
	Messages    int64 `json:"messages"`
	Bytes       int64 `json:"bytes"`
}

type subscriber struct {
	id int
	w  io.Writer
}

type paneStream struct {
	paneID string
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	subs     map[int]*subscriber
	last     string
	width    int
	height   int
	messages int64
	bytes    int64
}

// Streamer multiplexes pane capture loops over their subscribers.
type Streamer struct {
	term      Terminal
	log       *logring.Ring
	Interval  time.Duration
	Heartbeat time.Duration

	mu     sync.Mutex
	panes  map[string]*paneStream
	nextID int
	dmp    *diffmatchpatch.DiffMatchPatch
}

// New builds a streamer with default intervals.
func New(term Terminal, log *logring.Ring) *Streamer {
	return &Streamer{
		term:      term,
		log:       log,
		Interval:  DefaultCaptureInterval,
		Heartbeat: DefaultHeartbeatInterval,
		panes:     make(map[string]*paneStream),
		dmp:       diffmatchpatch.New(),
	}
}

// Subscribe attaches a writer to a pane's stream. The INIT message is
// written before Subscribe returns; subsequent messages arrive from the
// pane's capture loop. The returned function detaches the writer.
func (s *Streamer) Subscribe(paneID string, w io.Writer) (func(), error) {
	for {
		s.mu.Lock()
		ps, live := s.panes[paneID]
		if live {
			// A stream mid-teardown must not take new subscribers; its
			// capture loop is already gone.
			ps.mu.Lock()
			live = !ps.stopped
			ps.mu.Unlock()
			if !live {
				delete(s.panes, paneID)
			}
		}
		if !live {
			ctx, cancel := context.WithCancel(context.Background())
			ps = &paneStream{
				paneID: paneID,
				cancel: cancel,
				subs:   make(map[int]*subscriber),
			}
			s.panes[paneID] = ps
			go s.captureLoop(ctx, ps)
		}
		s.nextID++
		sub := &subscriber{id: s.nextID, w: w}
		s.mu.Unlock()

		content, err := s.term.CapturePaneEscapes(paneID)
		if err != nil {
			s.removeSub(ps, sub.id)
			return nil, fmt.Errorf("capturing pane %s: %w", paneID, err)
		}
		width, height, err := s.term.PaneGeometry(paneID)
		if err != nil {
			s.removeSub(ps, sub.id)
			return nil, fmt.Errorf("reading geometry of pane %s: %w", paneID, err)
		}
		row, col, _ := s.term.CursorPosition(paneID)

		ps.mu.Lock()
		if ps.stopped {
			// The stream died while we were capturing; start over.
			ps.mu.Unlock()
			continue
		}
		// Existing subscribers are brought up to this capture so the shared
		// diff base stays consistent across everyone.
		if len(ps.subs) > 0 && content != ps.last {
			s.broadcastLocked(ps, TypePatch, PatchPayload{
				Patch:     s.dmp.PatchToText(s.dmp.PatchMake(ps.last, content)),
				CursorRow: row,
				CursorCol: col,
			})
		}
		ps.last = content
		ps.width = width
		ps.height = height
		ps.subs[sub.id] = sub
		s.writeLocked(ps, sub, TypeInit, InitPayload{
			Width:     width,
			Height:    height,
			Content:   content,
			CursorRow: row,
			CursorCol: col,
		})
		ps.mu.Unlock()

		return func() { s.removeSub(ps, sub.id) }, nil
	}
}

// GetStats reports per-pane subscriber counts and traffic counters.
func (s *Streamer) GetStats() map[string]PaneStats {
	s.mu.Lock()
	panes := make([]*paneStream, 0, len(s.panes))
	for _, ps := range s.panes {
		panes = append(panes, ps)
	}
	s.mu.Unlock()

	out := make(map[string]PaneStats, len(panes))
	for _, ps := range panes {
		ps.mu.Lock()
		out[ps.paneID] = PaneStats{
			Subscribers: len(ps.subs),
			Messages:    ps.messages,
			Bytes:       ps.bytes,
		}
		ps.mu.Unlock()
	}
	return out
}

// Stop tears down every capture loop.
func (s *Streamer) Stop() {
	s.mu.Lock()
	panes := make([]*paneStream, 0, len(s.panes))
	for id, ps := range s.panes {
		panes = append(panes, ps)
		delete(s.panes, id)
	}
	s.mu.Unlock()
	for _, ps := range panes {
		ps.mu.Lock()
		ps.stopped = true
		ps.mu.Unlock()
		ps.cancel()
	}
}

func (s *Streamer) removeSub(ps *paneStream, id int) {
	ps.mu.Lock()
	delete(ps.subs, id)
	empty := len(ps.subs) == 0
	ps.mu.Unlock()
	if empty {
		s.stopPane(ps, false)
	}
}

// stopPane retires a stream. Without force it re-checks emptiness under the
// lock first, so a subscriber that attached after the caller saw the stream
// empty keeps it alive. Returns whether the stream stopped.
func (s *Streamer) stopPane(ps *paneStream, force bool) bool {
	ps.mu.Lock()
	if !force && len(ps.subs) > 0 {
		ps.mu.Unlock()
		return false
	}
	ps.stopped = true
	ps.mu.Unlock()

	s.mu.Lock()
	if current, ok := s.panes[ps.paneID]; ok && current == ps {
		delete(s.panes, ps.paneID)
	}
	s.mu.Unlock()
	ps.cancel()
	return true
}

func (s *Streamer) captureLoop(ctx context.Context, ps *paneStream) {
	capture := time.NewTicker(s.Interval)
	heartbeat := time.NewTicker(s.Heartbeat)
	defer capture.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			ps.mu.Lock()
			s.broadcastLocked(ps, TypeHeartbeat, HeartbeatPayload{Timestamp: time.Now().Unix()})
			empty := len(ps.subs) == 0
			ps.mu.Unlock()
			if empty && s.stopPane(ps, false) {
				return
			}
		case <-capture.C:
			if !s.captureOnce(ps) {
				return
			}
		}
	}
}

// captureOnce diffs the pane against the last broadcast screen. Returns
// false when the loop should stop.
func (s *Streamer) captureOnce(ps *paneStream) bool {
	content, err := s.term.CapturePaneEscapes(ps.paneID)
	if err != nil {
		// Pane gone, usually. Drop everyone.
		if s.log != nil {
			s.log.Debugf("stream", "capture of %s failed: %v", ps.paneID, err)
		}
		s.stopPane(ps, true)
		return false
	}
	width, height, gerr := s.term.PaneGeometry(ps.paneID)

	ps.mu.Lock()
	if gerr == nil && (width != ps.width || height != ps.height) {
		ps.width = width
		ps.height = height
		s.broadcastLocked(ps, TypeResize, ResizePayload{Width: width, Height: height})
	}
	if content != ps.last {
		row, col, _ := s.term.CursorPosition(ps.paneID)
		patch := s.dmp.PatchToText(s.dmp.PatchMake(ps.last, content))
		ps.last = content
		s.broadcastLocked(ps, TypePatch, PatchPayload{Patch: patch, CursorRow: row, CursorCol: col})
	}
	empty := len(ps.subs) == 0
	ps.mu.Unlock()

	if empty {
		return !s.stopPane(ps, false)
	}
	return true
}

// broadcastLocked writes one message to every subscriber, dropping any whose
// writer errors. Callers hold ps.mu.
func (s *Streamer) broadcastLocked(ps *paneStream, msgType string, payload any) {
	for _, sub := range ps.subs {
		s.writeLocked(ps, sub, msgType, payload)
	}
}

// writeLocked frames and writes one message. A write error detaches the
// subscriber; that is how client disconnects are detected. Callers hold
// ps.mu.
func (s *Streamer) writeLocked(ps *paneStream, sub *subscriber, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	line := msgType + ":" + string(data) + "\n"
	n, err := io.WriteString(sub.w, line)
	if err != nil {
		delete(ps.subs, sub.id)
		return
	}
	ps.messages++
	ps.bytes += int64(n)
}
