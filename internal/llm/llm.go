// Package llm abstracts the small-model calls dmux makes for pane status
// classification, slug and commit-message generation, and conflict
// resolution prompts. Providers are tried in order until one produces a
// non-empty result.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmux-sh/dmux/internal/logring"
)

// Common errors.
var (
	ErrNoProviders        = errors.New("no llm providers configured")
	ErrAllProvidersFailed = errors.New("all llm providers failed")
)

// Request is one model call.
type Request struct {
	Prompt    string
	JSON      bool // ask the provider for a JSON object response
	MaxTokens int
	Timeout   time.Duration
}

// Provider is a single model backend.
type Provider interface {
	Name() string
	// Available reports whether the provider can be used at all (binary on
	// PATH, API key set). Unavailable providers are skipped silently.
	Available() bool
	// Call executes the request. An empty result with nil error is treated
	// as a failure by the chain.
	Call(ctx context.Context, req Request) (string, error)
}

// Chain tries providers in order. Timeouts and user aborts yield a nil
// result without error escalation; only misconfiguration (no providers)
// surfaces as ErrNoProviders.
type Chain struct {
	providers []Provider
	log       *logring.Ring
}

// NewChain builds a provider chain.
func NewChain(log *logring.Ring, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: log}
}

// Call runs the request through the chain. Returns "" with nil error when
// every provider failed but the chain itself is usable; callers fall back to
// defaults in that case.
func (c *Chain) Call(ctx context.Context, req Request) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}

	tried := 0
	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		tried++

		callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
		out, err := p.Call(callCtx, req)
		cancel()

		if ctx.Err() != nil {
			// Caller abort: stop trying, return the miss.
			return "", nil
		}
		if err != nil {
			if c.log != nil {
				c.log.Warnf("llm", "provider %s failed: %v", p.Name(), err)
			}
			continue
		}
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}
		return out, nil
	}

	if tried == 0 {
		return "", ErrNoProviders
	}
	if c.log != nil {
		c.log.Warnf("llm", "all %d providers failed", tried)
	}
	return "", nil
}

// HasProvider reports whether at least one provider is available.
func (c *Chain) HasProvider() bool {
	for _, p := range c.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// ExtractJSON pulls a JSON object out of model output that may be wrapped in
// markdown fences or prose. Returns "" when no object is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip a markdown code fence if present.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
