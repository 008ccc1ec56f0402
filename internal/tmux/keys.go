package tmux

import (
	"fmt"
	"strings"
)

// KeySpec is a browser-style key event as delivered by the HTTP facade.
type KeySpec struct {
	Key      string `json:"key"`
	CtrlKey  bool   `json:"ctrlKey,omitempty"`
	AltKey   bool   `json:"altKey,omitempty"`
	ShiftKey bool   `json:"shiftKey,omitempty"`
	MetaKey  bool   `json:"metaKey,omitempty"`
}

// Translation is the tmux send-keys form of a KeySpec.
type Translation struct {
	// Tokens are send-keys arguments ("C-c", "Enter", ...). Empty when
	// Literal or Raw is set.
	Tokens []string
	// Literal is text sent with send-keys -l.
	Literal string
	// Raw is an escape sequence that must be delivered through a paste
	// buffer because send-keys has no token for it (Shift+Enter).
	Raw []byte
}

// specialKeys maps browser key names to tmux key tokens.
var specialKeys = map[string]string{
	"Enter":      "Enter",
	"Tab":        "Tab",
	"Backspace":  "BSpace",
	"Delete":     "DC",
	"Escape":     "Escape",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "PageUp",
	"PageDown":   "PageDown",
	" ":          "Space",
}

// tokenToKey is the inverse of specialKeys, used for round-trip checks.
var tokenToKey = func() map[string]string {
	m := make(map[string]string, len(specialKeys))
	for k, v := range specialKeys {
		m[v] = k
	}
	return m
}()

// TranslateKey converts a KeySpec into its tmux send-keys form.
func TranslateKey(spec KeySpec) (Translation, error) {
	if spec.Key == "" {
		return Translation{}, fmt.Errorf("empty key")
	}

	// Shift+Enter has no send-keys token; agents expect the CSI-u style
	// sequence ESC[13;2~ which we deliver via a paste buffer.
	if spec.Key == "Enter" && spec.ShiftKey {
		return Translation{Raw: []byte("\x1b[13;2~")}, nil
	}

	if spec.Key == "Tab" && spec.ShiftKey {
		return Translation{Tokens: []string{"BTab"}}, nil
	}

	if token, ok := specialKeys[spec.Key]; ok {
		return Translation{Tokens: []string{withModifiers(token, spec)}}, nil
	}

	// Single printable character.
	if len([]rune(spec.Key)) == 1 {
		if spec.CtrlKey || spec.AltKey || spec.MetaKey {
			return Translation{Tokens: []string{withModifiers(spec.Key, spec)}}, nil
		}
		return Translation{Literal: spec.Key}, nil
	}

	return Translation{}, fmt.Errorf("unsupported key %q", spec.Key)
}

func withModifiers(token string, spec KeySpec) string {
	var b strings.Builder
	if spec.CtrlKey {
		b.WriteString("C-")
	}
	if spec.AltKey || spec.MetaKey {
		b.WriteString("M-")
	}
	b.WriteString(token)
	return b.String()
}

// KeyForToken maps a tmux key token back to the browser key name. Returns
// false for tokens without a browser equivalent.
func KeyForToken(token string) (string, bool) {
	if token == "BTab" {
		return "Tab", true
	}
	token = strings.TrimPrefix(strings.TrimPrefix(token, "C-"), "M-")
	key, ok := tokenToKey[token]
	if !ok && len([]rune(token)) == 1 {
		return token, true
	}
	return key, ok
}

// SendKeySpec delivers a translated key event to a pane, using a paste
// buffer for raw sequences.
func (c *Client) SendKeySpec(paneID string, spec KeySpec) error {
	tr, err := TranslateKey(spec)
	if err != nil {
		return err
	}
	switch {
	case tr.Raw != nil:
		name := fmt.Sprintf("dmux-key-%s", strings.TrimPrefix(paneID, "%"))
		if err := c.LoadBuffer(name, tr.Raw); err != nil {
			return err
		}
		return c.PasteBuffer(name, paneID)
	case tr.Literal != "":
		return c.SendLiteral(paneID, tr.Literal)
	default:
		return c.SendKeys(paneID, tr.Tokens...)
	}
}
