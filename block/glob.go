package block

import (
	"strings"
	"time"
)

func defaultNow() time.Time { return time.Now() }

// ListKeys returns every locally-known key matching pattern. The
// supported glob subset mirrors what a control-plane client needs: an
// exact key, a trailing-star prefix, a leading-star suffix, a
// star-wrapped substring, or a bare "*" for everything. This is
// intentionally not a general glob implementation — the subset above
// covers every case the control plane exposes, and pulling in a globbing
// library for four string operations would be overkill.
func (s *Store) ListKeys(pattern string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	switch {
	case pattern == "" || pattern == "*":
		for k := range s.keys {
			out = append(out, k)
		}
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		needle := pattern[1 : len(pattern)-1]
		for k := range s.keys {
			if strings.Contains(k, needle) {
				out = append(out, k)
			}
		}
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		for k := range s.keys {
			if strings.HasPrefix(k, prefix) {
				out = append(out, k)
			}
		}
	case strings.HasPrefix(pattern, "*"):
		suffix := strings.TrimPrefix(pattern, "*")
		for k := range s.keys {
			if strings.HasSuffix(k, suffix) {
				out = append(out, k)
			}
		}
	default:
		if _, ok := s.keys[pattern]; ok {
			out = append(out, pattern)
		}
	}
	return out
}
