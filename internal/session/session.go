// Package session derives the per-project tmux session identity.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Prefix starts every session dmux owns.
const Prefix = "dmux-"

// ProjectName is the git root's basename with dots flattened to dashes so
// the name survives tmux's session-name rules.
func ProjectName(projectRoot string) string {
	name := filepath.Base(filepath.Clean(projectRoot))
	name = strings.ReplaceAll(name, ".", "-")
	if name == "" || name == "/" || name == "-" {
		return "project"
	}
	return name
}

// Name returns the tmux session name for a project root. The trailing hash
// disambiguates checkouts of the same project in different directories.
func Name(projectRoot string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectRoot)))
	return fmt.Sprintf("%s%s-%s", Prefix, ProjectName(projectRoot), hex.EncodeToString(sum[:])[:8])
}

// Owned reports whether a session name was created by dmux.
func Owned(sessionName string) bool {
	return strings.HasPrefix(sessionName, Prefix)
}
