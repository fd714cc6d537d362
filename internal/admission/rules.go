package admission

import (
	"strings"

	"gateway/internal/models"
)

const pathTraversal = ".."

// Rules screens admitted requests against blocked path prefixes, path
// traversal sequences, and blocked User-Agent substrings. A nil *Rules
// performs no screening.
type Rules struct {
	blockedPaths  []string
	blockedAgents []string
}

// NewRules builds screening rules from configuration. Returns nil when
// screening is disabled.
func NewRules(cfg models.ScreeningConfig) *Rules {
	if !cfg.Enabled {
		return nil
	}
	r := &Rules{
		blockedPaths:  make([]string, 0, len(cfg.BlockedPaths)),
		blockedAgents: make([]string, 0, len(cfg.BlockedUserAgents)),
	}
	for _, p := range cfg.BlockedPaths {
		r.blockedPaths = append(r.blockedPaths, strings.ToLower(p))
	}
	for _, a := range cfg.BlockedUserAgents {
		r.blockedAgents = append(r.blockedAgents, strings.ToLower(a))
	}
	return r
}

// Check reports whether the request should be blocked, with a short reason
// for logging.
func (r *Rules) Check(path, userAgent string) (string, bool) {
	if strings.Contains(path, pathTraversal) {
		return "path traversal", true
	}

	pathLower := strings.ToLower(path)
	for _, blocked := range r.blockedPaths {
		if strings.HasPrefix(pathLower, blocked) {
			return "blocked path", true
		}
	}

	if userAgent == "" {
		return "missing user agent", true
	}
	uaLower := strings.ToLower(userAgent)
	for _, blocked := range r.blockedAgents {
		if strings.Contains(uaLower, blocked) {
			return "blocked user agent", true
		}
	}

	return "", false
}
