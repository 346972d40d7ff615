// Package version holds build metadata stamped in by the linker.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full build line printed by `songid version`.
func String() string {
	return "songid " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies songid to recognition services.
func UserAgent() string {
	return "songid/" + Version
}
