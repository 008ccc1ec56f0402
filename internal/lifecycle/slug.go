package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dmux-sh/dmux/internal/llm"
)

const slugPrompt = `Produce a short kebab-case branch slug (2-4 words, lowercase,
letters/digits/dashes only, max 24 characters) describing this coding task.
Respond with the slug only, no quotes, no explanation.

Task:
%s`

const maxSlugLen = 24

// GenerateSlug derives a branch-safe slug from the task prompt. Model
// failure falls back to a timestamp slug so creation never blocks on the
// model being reachable.
func GenerateSlug(ctx context.Context, chain *llm.Chain, prompt string) string {
	if chain != nil {
		out, err := chain.Call(ctx, llm.Request{
			Prompt:    fmt.Sprintf(slugPrompt, prompt),
			MaxTokens: 30,
			Timeout:   10 * time.Second,
		})
		if err == nil {
			if slug := SanitizeSlug(out); slug != "" {
				return slug
			}
		}
	}
	return FallbackSlug(time.Now())
}

// FallbackSlug is the timestamp slug used when generation fails.
func FallbackSlug(t time.Time) string {
	return fmt.Sprintf("dmux-%d", t.Unix())
}

// SanitizeSlug normalises model output into a valid slug: lowercase,
// alphanumerics and dashes, no leading/trailing/double dashes, bounded
// length. Returns "" when nothing usable remains.
func SanitizeSlug(raw string) string {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap the answer in quotes or backticks.
	raw = strings.Trim(raw, "\"'`")
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx]
	}

	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == '_' || r == ' ' || r == '/':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// PairSlugs returns the two slugs for an A/B creation sharing one base.
func PairSlugs(base string, suffixA, suffixB string) (string, string) {
	return base + suffixA, base + suffixB
}
