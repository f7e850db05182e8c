// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/okulab/termgate/internal/domain"
)

// Repository persists session metadata and command history. All writes are
// best-effort from the engine's point of view: the in-memory registry stays
// authoritative while the process is alive, and the store serves audit
// listings and post-mortem history.
type Repository interface {
	// SaveSession inserts or replaces a session record.
	SaveSession(ctx context.Context, info *domain.SessionInfo) error

	// UpdateSessionState records a lifecycle transition.
	UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState, at time.Time) error

	// TouchSession updates the last-active timestamp.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// AppendCommand appends one history entry for a session.
	AppendCommand(ctx context.Context, sessionID string, entry domain.CommandEntry) error

	// CommandHistory returns a session's history in send order.
	CommandHistory(ctx context.Context, sessionID string) ([]domain.CommandEntry, error)

	// ListSessions returns all persisted session records.
	ListSessions(ctx context.Context) ([]*domain.SessionInfo, error)

	// PruneSessions removes terminated/failed sessions (and their history)
	// whose last activity is older than the retention window. Returns the
	// number of sessions removed.
	PruneSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
