// Package version holds build metadata injected via -ldflags.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return "parley " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies parley on outbound HTTP requests.
func UserAgent() string {
	return "parley/" + Version
}
