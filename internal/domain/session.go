// Package domain defines core data types shared across the service.
package domain

import (
	"time"
)

// SessionState is the lifecycle state of a terminal session.
type SessionState string

const (
	// StateStarting means the shell process is being spawned.
	StateStarting SessionState = "starting"
	// StateRunning means the drain loop is active and the session accepts input.
	StateRunning SessionState = "running"
	// StateTerminated means the session ended, by request or process exit.
	StateTerminated SessionState = "terminated"
	// StateFailed means the shell process could not be spawned.
	StateFailed SessionState = "failed"
)

// InputMode distinguishes line-oriented sends from raw keystroke sends.
type InputMode string

const (
	// InputModeLine appends a line terminator to the sent text.
	InputModeLine InputMode = "line"
	// InputModeRaw sends text verbatim, for control characters and keystrokes.
	InputModeRaw InputMode = "raw"
)

// CommandEntry represents a single entry in a session's command history.
type CommandEntry struct {
	Text   string    `json:"text"`
	Mode   InputMode `json:"mode"`
	SentAt time.Time `json:"sent_at"`
}

// SessionInfo is the public summary of a terminal session.
type SessionInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Shell        string       `json:"shell"`
	State        SessionState `json:"state"`
	Cols         uint16       `json:"cols"`
	Rows         uint16       `json:"rows"`
	LogPath      string       `json:"log_path,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// Alive reports whether the session still accepts input.
func (s SessionInfo) Alive() bool {
	return s.State == StateStarting || s.State == StateRunning
}
