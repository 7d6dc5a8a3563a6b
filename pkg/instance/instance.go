package instance

import (
	"os"
	"strings"
)

// ID names this process for lock owners and log fields. It prefers
// MARKETPLACE_INSTANCE_ID, then the platform's DYNO, then the hostname.
func ID() string {
	for _, key := range []string{"MARKETPLACE_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
