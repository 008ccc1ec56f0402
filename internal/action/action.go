// Package action defines the UI-agnostic result protocol shared by the TUI
// and the HTTP facade. Every user-facing operation returns a Result; the
// interactive variants carry callbacks that themselves return Results, which
// is how multi-step flows like the merge wizard run without any UI code in
// the operations.
package action

import (
	"fmt"

	"github.com/dmux-sh/dmux/internal/config"
	"github.com/dmux-sh/dmux/internal/state"
)

// Kind discriminates the Result variants.
type Kind string

const (
	KindView       Kind = "view"
	KindNavigation Kind = "navigation"
	KindInfo       Kind = "info"
	KindSuccess    Kind = "success"
	KindError      Kind = "error"
	KindConfirm    Kind = "confirm"
	KindChoice     Kind = "choice"
	KindInput      Kind = "input"
	KindProgress   Kind = "progress"
)

// ChoiceOption is one entry in a choice dialog.
type ChoiceOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Danger      bool   `json:"danger,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Result is the sum type. Exactly the fields matching Kind are set; the
// callbacks never serialise — over HTTP they are resolved through the
// registry by CallbackID.
type Result struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`

	TargetPaneID string `json:"targetPaneId,omitempty"`
	Dismissable  bool   `json:"dismissable,omitempty"`

	ConfirmLabel string         `json:"confirmLabel,omitempty"`
	CancelLabel  string         `json:"cancelLabel,omitempty"`
	Options      []ChoiceOption `json:"options,omitempty"`
	Placeholder  string         `json:"placeholder,omitempty"`
	DefaultValue string         `json:"defaultValue,omitempty"`

	ProgressType string `json:"progressType,omitempty"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`

	CallbackID string `json:"callbackId,omitempty"`

	OnConfirm func() Result                `json:"-"`
	OnCancel  func() Result                `json:"-"`
	OnSelect  func(optionID string) Result `json:"-"`
	OnSubmit  func(value string) Result    `json:"-"`
}

// Interactive reports whether the result carries callbacks that must outlive
// the request that produced it.
func (r Result) Interactive() bool {
	switch r.Kind {
	case KindConfirm, KindChoice, KindInput:
		return true
	}
	return false
}

// None is the zero result, used when an operation completes silently.
var None = Result{}

func View(message string) Result {
	return Result{Kind: KindView, Message: message}
}

func Navigation(message, targetPaneID string) Result {
	return Result{Kind: KindNavigation, Message: message, TargetPaneID: targetPaneID}
}

func Info(message string) Result {
	return Result{Kind: KindInfo, Message: message, Dismissable: true}
}

func Success(message string) Result {
	return Result{Kind: KindSuccess, Message: message, Dismissable: true}
}

func Error(message string) Result {
	return Result{Kind: KindError, Message: message, Dismissable: true}
}

func Errorf(format string, args ...any) Result {
	return Error(fmt.Sprintf(format, args...))
}

func Confirm(title, message string, onConfirm func() Result) Result {
	return Result{Kind: KindConfirm, Title: title, Message: message, OnConfirm: onConfirm}
}

func Choice(title, message string, options []ChoiceOption, onSelect func(string) Result) Result {
	return Result{Kind: KindChoice, Title: title, Message: message, Options: options, OnSelect: onSelect}
}

func Input(title, message, placeholder, defaultValue string, onSubmit func(string) Result) Result {
	return Result{
		Kind:         KindInput,
		Title:        title,
		Message:      message,
		Placeholder:  placeholder,
		DefaultValue: defaultValue,
		OnSubmit:     onSubmit,
	}
}

func Progress(message, progressType string, timeoutMs int) Result {
	return Result{Kind: KindProgress, Message: message, ProgressType: progressType, TimeoutMs: timeoutMs}
}

// Action identifiers, shared between the TUI menu and the HTTP facade.
const (
	ActionView            = "view"
	ActionSendKeys        = "send_keys"
	ActionClose           = "close"
	ActionRename          = "rename"
	ActionDuplicate       = "duplicate"
	ActionMerge           = "merge"
	ActionOpenInEditor    = "open_in_editor"
	ActionCopyPath        = "copy_path"
	ActionToggleAutopilot = "toggle_autopilot"
	ActionRunTests        = "run_tests"
	ActionRunDev          = "run_dev"
)

// Definition describes one menu entry.
type Definition struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Available filters the action menu for one pane. Worktree-bound operations
// disappear for panes running in the main checkout.
func Available(pane state.Pane, settings config.Settings) []Definition {
	defs := []Definition{
		{ID: ActionView, Label: "View"},
		{ID: ActionSendKeys, Label: "Send keys"},
		{ID: ActionClose, Label: "Close"},
		{ID: ActionRename, Label: "Rename"},
		{ID: ActionDuplicate, Label: "Duplicate"},
	}
	if pane.HasWorktree() {
		defs = append(defs,
			Definition{ID: ActionMerge, Label: "Merge"},
			Definition{ID: ActionOpenInEditor, Label: "Open in editor"},
			Definition{ID: ActionCopyPath, Label: "Copy worktree path"},
			Definition{ID: ActionRunTests, Label: "Run tests"},
			Definition{ID: ActionRunDev, Label: "Run dev server"},
		)
	}
	label := "Enable autopilot"
	if pane.Autopilot {
		label = "Disable autopilot"
	}
	defs = append(defs, Definition{ID: ActionToggleAutopilot, Label: label})
	return defs
}
