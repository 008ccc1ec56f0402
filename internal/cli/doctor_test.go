package cli

import "testing"

func TestParseTmuxVersion(t *testing.T) {
	tests := []struct {
		in           string
		major, minor int
		ok           bool
	}{
		{"tmux 3.4", 3, 4, true},
		{"tmux 3.3a", 3, 3, true},
		{"tmux 2.9", 2, 9, true},
		{"tmux 3.5-rc2", 3, 5, true},
		{"tmux next-3.5", 0, 0, false},
		{"tmux", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		major, minor, ok := parseTmuxVersion(tt.in)
		if major != tt.major || minor != tt.minor || ok != tt.ok {
			t.Errorf("parseTmuxVersion(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.in, major, minor, ok, tt.major, tt.minor, tt.ok)
		}
	}
}

func TestAllRequired(t *testing.T) {
	checks := []doctorCheck{
		{Name: "tmux", OK: true, Require: true},
		{Name: "claude", OK: false},
	}
	if !allRequired(checks) {
		t.Error("optional failure should not fail the doctor")
	}
	checks[0].OK = false
	if allRequired(checks) {
		t.Error("required failure must fail the doctor")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/usr/local/bin/dmux", "'/usr/local/bin/dmux'"},
		{"/tmp/it's here/dmux", `'/tmp/it'\''s here/dmux'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
