// Package tmux wraps the tmux command line. It is the only place in the
// process that spawns tmux; every other component goes through a Client.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// QueryTimeout bounds read-only tmux invocations (list, capture, display).
	QueryTimeout = 500 * time.Millisecond
	// MutateTimeout bounds tmux invocations that change server state.
	MutateTimeout = 5 * time.Second
)

// ExitError is returned when tmux exits non-zero.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("tmux %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// IsMissingPane reports whether err is tmux complaining that the target pane
// is gone. Close paths treat this as success.
func IsMissingPane(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "can't find pane") ||
		strings.Contains(msg, "can't find window") ||
		strings.Contains(msg, "no such pane")
}

var (
	binaryOnce sync.Once
	binaryPath string
)

// BinaryPath returns the resolved tmux binary path, preferring standard
// install locations and falling back to PATH lookup.
func BinaryPath() string {
	binaryOnce.Do(func() {
		for _, p := range []string{"/usr/bin/tmux", "/usr/local/bin/tmux", "/opt/homebrew/bin/tmux"} {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				binaryPath = p
				return
			}
		}
		if p, err := exec.LookPath("tmux"); err == nil {
			binaryPath = p
			return
		}
		binaryPath = "tmux"
	})
	return binaryPath
}

// IsInstalled checks if tmux is available.
func IsInstalled() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// InTmux returns true if the process is running inside a tmux session.
func InTmux() bool {
	return os.Getenv("TMUX") != ""
}

// PaneInfo describes one live tmux pane.
type PaneInfo struct {
	PaneID string
	Title  string
	Width  int
	Height int
	Active bool
}

// Client executes tmux commands with bounded timeouts.
type Client struct {
	queryTimeout  time.Duration
	mutateTimeout time.Duration
}

// NewClient creates a tmux client with the default timeouts.
func NewClient() *Client {
	return &Client{queryTimeout: QueryTimeout, mutateTimeout: MutateTimeout}
}

func (c *Client) run(parent context.Context, timeout time.Duration, args ...string) (string, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, BinaryPath(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), ctxErr)
		}
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return "", &ExitError{Args: args, ExitCode: code, Stderr: stderr.String()}
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func (c *Client) query(args ...string) (string, error) {
	return c.run(context.Background(), c.queryTimeout, args...)
}

func (c *Client) mutate(args ...string) error {
	_, err := c.run(context.Background(), c.mutateTimeout, args...)
	return err
}

// SplitOptions configures SplitPane.
type SplitOptions struct {
	Target     string // pane or window to split, e.g. "%3" or "sess:0"
	Horizontal bool   // split left/right instead of top/bottom
	Directory  string // starting directory for the new pane
	Percent    int    // size of the new pane in percent, 0 for tmux default
	Detached   bool   // do not give the new pane focus
}

// SplitPane splits a pane and returns the new pane id.
func (c *Client) SplitPane(opts SplitOptions) (string, error) {
	args := []string{"split-window", "-P", "-F", "#{pane_id}"}
	if opts.Horizontal {
		args = append(args, "-h")
	}
	if opts.Detached {
		args = append(args, "-d")
	}
	if opts.Percent > 0 {
		args = append(args, "-p", strconv.Itoa(opts.Percent))
	}
	if opts.Directory != "" {
		args = append(args, "-c", opts.Directory)
	}
	if opts.Target != "" {
		args = append(args, "-t", opts.Target)
	}
	out, err := c.run(context.Background(), c.mutateTimeout, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// KillPane kills a pane. A pane that is already gone is not an error.
func (c *Client) KillPane(paneID string) error {
	err := c.mutate("kill-pane", "-t", paneID)
	if IsMissingPane(err) {
		return nil
	}
	return err
}

// ListPanes lists all panes of a session.
func (c *Client) ListPanes(session string) ([]PaneInfo, error) {
	const sep = "|#|"
	format := strings.Join([]string{
		"#{pane_id}", "#{pane_title}", "#{pane_width}", "#{pane_height}", "#{pane_active}",
	}, sep)
	args := []string{"list-panes", "-F", format}
	if session != "" {
		args = append(args, "-s", "-t", session)
	}
	out, err := c.query(args...)
	if err != nil {
		return nil, err
	}
	var panes []PaneInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, sep)
		if len(parts) < 5 {
			continue
		}
		width, _ := strconv.Atoi(parts[2])
		height, _ := strconv.Atoi(parts[3])
		panes = append(panes, PaneInfo{
			PaneID: parts[0],
			Title:  parts[1],
			Width:  width,
			Height: height,
			Active: parts[4] == "1",
		})
	}
	return panes, nil
}

// CapturePane returns the last n visible lines of a pane as plain text.
func (c *Client) CapturePane(paneID string, lastN int) (string, error) {
	args := []string{"capture-pane", "-t", paneID, "-p"}
	if lastN > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lastN))
	}
	return c.query(args...)
}

// CapturePaneEscapes captures the full visible screen including escape
// sequences, with wrapped lines joined (-epJ). Used by the terminal streamer.
func (c *Client) CapturePaneEscapes(paneID string) (string, error) {
	return c.query("capture-pane", "-t", paneID, "-epJ")
}

// CursorPosition returns the cursor row and column of a pane.
func (c *Client) CursorPosition(paneID string) (row, col int, err error) {
	out, err := c.query("display-message", "-p", "-t", paneID, "#{cursor_y},#{cursor_x}")
	if err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(out), ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected cursor position %q", out)
	}
	row, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	col, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return row, col, nil
}

// PaneGeometry returns the width and height of a pane.
func (c *Client) PaneGeometry(paneID string) (width, height int, err error) {
	out, err := c.query("display-message", "-p", "-t", paneID, "#{pane_width},#{pane_height}")
	if err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(out), ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected pane geometry %q", out)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// SanitizeShellCommand rejects control characters that would inject
// unintended key sequences when sent into a pane.
func SanitizeShellCommand(cmd string) (string, error) {
	for _, r := range cmd {
		switch {
		case r == '\n', r == '\r', r == 0:
			return "", fmt.Errorf("command contains disallowed control characters")
		case r < 0x20 && r != ' ' && r != '\t':
			return "", fmt.Errorf("command contains disallowed control character 0x%02x", r)
		}
	}
	return cmd, nil
}

// SendShellCommand types a shell command into a pane and presses Enter.
func (c *Client) SendShellCommand(paneID, command string) error {
	safe, err := SanitizeShellCommand(command)
	if err != nil {
		return err
	}
	if err := c.mutate("send-keys", "-t", paneID, "-l", "--", safe); err != nil {
		return err
	}
	return c.mutate("send-keys", "-t", paneID, "Enter")
}

// SendKeys sends raw tmux key tokens (e.g. "C-c", "Enter", "Up") to a pane.
func (c *Client) SendKeys(paneID string, keys ...string) error {
	args := append([]string{"send-keys", "-t", paneID}, keys...)
	return c.mutate(args...)
}

// SendLiteral sends text to a pane without key-name interpretation.
func (c *Client) SendLiteral(paneID, text string) error {
	return c.mutate("send-keys", "-t", paneID, "-l", "--", text)
}

// SelectPane gives a pane focus.
func (c *Client) SelectPane(paneID string) error {
	return c.mutate("select-pane", "-t", paneID)
}

// SetPaneTitle sets the title shown in the pane border.
func (c *Client) SetPaneTitle(paneID, title string) error {
	return c.mutate("select-pane", "-t", paneID, "-T", title)
}

// SetGlobalOption sets a global tmux option.
func (c *Client) SetGlobalOption(key, value string) error {
	return c.mutate("set-option", "-g", key, value)
}

// SetSessionOption sets an option scoped to one session.
func (c *Client) SetSessionOption(session, key, value string) error {
	return c.mutate("set-option", "-t", session, key, value)
}

// DisplayMessage expands a tmux format string.
func (c *Client) DisplayMessage(format string) (string, error) {
	return c.query("display-message", "-p", format)
}

// RefreshClient redraws attached clients. Failures are cosmetic and ignored
// by callers.
func (c *Client) RefreshClient() error {
	return c.mutate("refresh-client")
}

// LoadBuffer loads data into a named tmux paste buffer via stdin.
func (c *Client) LoadBuffer(name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.mutateTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, BinaryPath(), "load-buffer", "-b", name, "-")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ExitError{Args: []string{"load-buffer", "-b", name}, ExitCode: -1, Stderr: stderr.String()}
	}
	return nil
}

// PasteBuffer pastes a named buffer into a pane and deletes it.
func (c *Client) PasteBuffer(name, paneID string) error {
	return c.mutate("paste-buffer", "-d", "-b", name, "-t", paneID)
}

// DeleteBuffer removes a named buffer.
func (c *Client) DeleteBuffer(name string) error {
	err := c.mutate("delete-buffer", "-b", name)
	if err != nil && strings.Contains(err.Error(), "no buffer") {
		return nil
	}
	return err
}

// HasSession checks whether a session exists.
func (c *Client) HasSession(name string) bool {
	_, err := c.query("has-session", "-t", name)
	return err == nil
}

// NewSession creates a detached session rooted at directory.
func (c *Client) NewSession(name, directory string) error {
	return c.mutate("new-session", "-d", "-s", name, "-c", directory)
}

// KillSession kills a session.
func (c *Client) KillSession(name string) error {
	return c.mutate("kill-session", "-t", name)
}

// AttachOrSwitch attaches to a session, or switches the current client when
// already inside tmux.
func (c *Client) AttachOrSwitch(name string) error {
	if InTmux() {
		return c.mutate("switch-client", "-t", name)
	}
	cmd := exec.Command(BinaryPath(), "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CurrentPaneID returns the pane id the process is running in, or "".
func (c *Client) CurrentPaneID() string {
	if !InTmux() {
		return ""
	}
	out, err := c.query("display-message", "-p", "#{pane_id}")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
