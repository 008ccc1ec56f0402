package git

import (
	"fmt"
	"strings"
)

// ValidateBranchName rejects names that are not valid git refs. This is a
// conservative subset of the git-check-ref-format rules; anything rejected
// here would also be rejected by git.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name is empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("branch name %q starts with '-'", name)
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("branch name %q has invalid trailing character", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name %q ends with .lock", name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return fmt.Errorf("branch name %q contains a forbidden sequence", name)
	}
	for _, r := range name {
		switch {
		case r == ' ', r == '~', r == '^', r == ':', r == '?', r == '*', r == '[', r == '\\':
			return fmt.Errorf("branch name %q contains forbidden character %q", name, r)
		case r < 0x20 || r == 0x7f:
			return fmt.Errorf("branch name %q contains a control character", name)
		}
	}
	return nil
}

// ValidateBranchPrefix checks a configured branch prefix. The prefix is a
// ref fragment, so a trailing slash is allowed (it separates prefix from
// slug) but all other ref rules apply.
func ValidateBranchPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	if trimmed == "" {
		return fmt.Errorf("branch prefix %q is only a separator", prefix)
	}
	return ValidateBranchName(trimmed)
}
