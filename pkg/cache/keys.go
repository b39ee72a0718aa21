package cache

import "strings"

// Key joins key parts with ':' and skips empty parts, so optional segments
// never produce "a::b".
func Key(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
