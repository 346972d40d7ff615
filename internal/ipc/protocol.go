// Package ipc carries session commands between the listen owner and later
// songid invocations as one JSON line each way over a unix socket.
package ipc

import "strings"

// Command names a request served by a running listen session.
type Command string

const (
	CommandStatus Command = "status"
	CommandStop   Command = "stop"
	CommandRetry  Command = "retry"
	CommandCancel Command = "cancel"
)

// Valid reports whether c is a command the session serves.
func (c Command) Valid() bool {
	switch c {
	case CommandStatus, CommandStop, CommandRetry, CommandCancel:
		return true
	default:
		return false
	}
}

type Request struct {
	Command Command `json:"command"`
}

// Song is the wire form of a recognized song.
type Song struct {
	Title      string   `json:"title"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Display    string   `json:"display"`
}

// Snapshot mirrors the session state at the time a command was handled.
type Snapshot struct {
	// Phase is the one-word label printed by `songid status`.
	Phase          string `json:"phase"`
	Recording      string `json:"recording"`
	Recognition    string `json:"recognition"`
	ElapsedSeconds int    `json:"elapsed_seconds,omitempty"`
	Progress       string `json:"progress,omitempty"`
	Error          string `json:"error,omitempty"`
	Song           *Song  `json:"song,omitempty"`
	RetryAvailable bool   `json:"retry_available,omitempty"`
}

type Response struct {
	OK      bool      `json:"ok"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Session *Snapshot `json:"session,omitempty"`
}

// Phase returns the session phase, or "idle" when the reply carries none.
func (r Response) Phase() string {
	if r.Session == nil || strings.TrimSpace(r.Session.Phase) == "" {
		return "idle"
	}
	return r.Session.Phase
}
