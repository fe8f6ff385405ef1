// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginPolicy(origins []string, log *slog.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// check is the websocket.Upgrader CheckOrigin hook.
func (p *originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}
	p.log.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
