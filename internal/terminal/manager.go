package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okulab/termgate/internal/domain"
	"github.com/okulab/termgate/internal/proc"
	"github.com/okulab/termgate/internal/store"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	Name string
	Spec proc.ShellSpec
	Cols uint16
	Rows uint16
}

// ManagerConfig tunes session defaults.
type ManagerConfig struct {
	DefaultCols     uint16
	DefaultRows     uint16
	BufferMax       int
	StartupCleanup  bool
	StartupInitWait time.Duration
	StartupSettle   time.Duration
}

// DefaultManagerConfig mirrors the geometry a remote caller usually wants for
// scripted interaction.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultCols:     120,
		DefaultRows:     30,
		BufferMax:       DefaultBufferMax,
		StartupCleanup:  true,
		StartupInitWait: time.Second,
		StartupSettle:   100 * time.Millisecond,
	}
}

// Manager is the process-wide session registry. Registry mutation is
// serialized by one guard, distinct from any per-session locking; lookups run
// concurrently with each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	spawner  proc.Spawner
	translog *TranscriptLogger
	repo     store.Repository
	cfg      ManagerConfig
	logger   *slog.Logger
}

// NewManager creates a session manager. translog and repo may be nil, which
// disables transcripts and persistence respectively.
func NewManager(spawner proc.Spawner, translog *TranscriptLogger, repo store.Repository, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = 120
	}
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = 30
	}
	return &Manager{
		sessions: make(map[string]*Session),
		spawner:  spawner,
		translog: translog,
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create spawns a new session and registers it. Identifiers are unique for
// the process lifetime. On spawn failure the returned session is registered
// in Failed state alongside the error, so the failure stays observable.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	id := uuid.NewString()
	name := req.Name
	if name == "" {
		name = "session-" + id[:8]
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = m.cfg.DefaultCols
	}
	if rows == 0 {
		rows = m.cfg.DefaultRows
	}
	shell := req.Spec.String()
	logPath := m.translog.Open(id, name)

	handle, err := m.spawner.Spawn(ctx, req.Spec, cols, rows)
	if err != nil {
		sess := newFailedSession(id, name, shell, cols, rows, logPath, m.logger)
		m.register(sess)
		m.persistSession(sess)
		m.logger.Error("Session spawn failed", "session_id", id, "name", name, "shell", shell, "error", err)
		return sess, fmt.Errorf("create session %s: %w", id, err)
	}

	var sink Sink
	if m.translog != nil {
		sink = m.translog
	}
	sess := newSession(id, name, shell, cols, rows, logPath, handle, NewOutputBuffer(id, m.cfg.BufferMax, sink), m.logger)
	sess.recordFn = m.commandRecorder(id)
	sess.start()

	if m.cfg.StartupCleanup {
		sess.startupCleanup(m.cfg.StartupInitWait, m.cfg.StartupSettle)
	}

	m.register(sess)
	m.persistSession(sess)
	m.logger.Info("Session created", "session_id", id, "name", name, "shell", shell, "cols", cols, "rows", rows)
	return sess, nil
}

// Get resolves a session by id, falling back to name lookup.
func (m *Manager) Get(idOrName string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess, ok := m.sessions[idOrName]; ok {
		return sess, nil
	}
	for _, sess := range m.sessions {
		if sess.name == idOrName {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", idOrName, ErrNotFound)
}

// List returns summaries of all registered sessions, oldest first.
func (m *Manager) List() []domain.SessionInfo {
	m.mu.RLock()
	infos := make([]domain.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Destroy terminates a session and removes it from the registry. Idempotent
// with respect to an already-terminated session; an unknown identifier is
// ErrNotFound and leaves the registry unchanged.
func (m *Manager) Destroy(ctx context.Context, idOrName string) error {
	sess, err := m.Get(idOrName)
	if err != nil {
		return err
	}
	m.remove(ctx, sess, "destroy requested")
	return nil
}

// Shutdown terminates every session. Called once at process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Terminate()
		m.persistState(ctx, sess)
		m.translog.CloseSession(sess.id)
	}
	m.logger.Info("All sessions terminated", "count", len(sessions))
}

// StartReaper launches a background worker that terminates sessions idle past
// ttl. Disabled when ttl <= 0.
func (m *Manager) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle(ctx, ttl)
			}
		}
	}()
	m.logger.Info("Idle session reaper started", "ttl", ttl, "interval", interval)
}

func (m *Manager) reapIdle(ctx context.Context, ttl time.Duration) {
	now := time.Now()
	var expired []*Session

	m.mu.RLock()
	for _, sess := range m.sessions {
		info := sess.Info()
		if now.Sub(info.LastActiveAt) > ttl {
			expired = append(expired, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range expired {
		m.logger.Info("Reaping idle session", "session_id", sess.id, "name", sess.name)
		m.remove(ctx, sess, "idle ttl exceeded")
	}
}

func (m *Manager) register(sess *Session) {
	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()
}

func (m *Manager) remove(ctx context.Context, sess *Session, reason string) {
	sess.Terminate()

	m.mu.Lock()
	delete(m.sessions, sess.id)
	m.mu.Unlock()

	m.persistState(ctx, sess)
	m.translog.CloseSession(sess.id)
	m.logger.Info("Session removed", "session_id", sess.id, "name", sess.name, "reason", reason)
}

// commandRecorder returns the history write-through hook for a session.
// Persistence runs on its own goroutine with a bounded timeout so a slow
// database never backs up into SendLine.
func (m *Manager) commandRecorder(sessionID string) func(domain.CommandEntry) {
	if m.repo == nil {
		return nil
	}
	return func(entry domain.CommandEntry) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := withBusyRetry(ctx, func() error {
				return m.repo.AppendCommand(ctx, sessionID, entry)
			}); err != nil {
				m.logger.Warn("Failed to persist command", "session_id", sessionID, "error", err)
			}
		}()
	}
}

func (m *Manager) persistSession(sess *Session) {
	if m.repo == nil {
		return
	}
	info := sess.Info()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := withBusyRetry(ctx, func() error {
			return m.repo.SaveSession(ctx, &info)
		}); err != nil {
			m.logger.Warn("Failed to persist session", "session_id", info.ID, "error", err)
		}
	}()
}

func (m *Manager) persistState(ctx context.Context, sess *Session) {
	if m.repo == nil {
		return
	}
	info := sess.Info()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := withBusyRetry(persistCtx, func() error {
		return m.repo.UpdateSessionState(persistCtx, info.ID, info.State, info.LastActiveAt)
	}); err != nil {
		m.logger.Warn("Failed to persist session state", "session_id", info.ID, "error", err)
	}
}
