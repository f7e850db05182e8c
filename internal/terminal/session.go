package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/okulab/termgate/internal/domain"
	"github.com/okulab/termgate/internal/proc"
)

var (
	// ErrSessionNotRunning is returned by write and resize operations on a
	// terminated or failed session.
	ErrSessionNotRunning = errors.New("session is not running")

	// ErrNotFound is returned by registry operations for unknown session ids.
	ErrNotFound = errors.New("session not found")
)

// lineTerminator is what SendLine appends; PTY line discipline expects CR,
// the same byte Enter produces.
const lineTerminator = "\r"

// Session owns one spawned shell process behind a pseudo-terminal. A single
// background drain loop continuously reads raw output, filters it, and
// appends it to the output buffer; API-facing operations may be called
// concurrently with each other and with the drain loop.
type Session struct {
	id        string
	name      string
	shell     string
	createdAt time.Time
	logPath   string

	handle proc.Handle
	filter *Filter
	out    *OutputBuffer
	logger *slog.Logger

	// recordFn, when set, receives every history entry. Must not block.
	recordFn func(domain.CommandEntry)

	mu         sync.RWMutex // guards state, geometry, history, lastActive, tap
	state      domain.SessionState
	cols, rows uint16
	history    []domain.CommandEntry
	lastActive time.Time
	tap        *outputTap

	writeMu sync.Mutex // serializes writes to the process input
	endOnce sync.Once
	done    chan struct{}
}

func newSession(id, name, shell string, cols, rows uint16, logPath string, handle proc.Handle, out *OutputBuffer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Session{
		id:         id,
		name:       name,
		shell:      shell,
		createdAt:  now,
		lastActive: now,
		logPath:    logPath,
		cols:       cols,
		rows:       rows,
		handle:     handle,
		filter:     NewFilter(),
		out:        out,
		logger:     logger,
		state:      domain.StateStarting,
		done:       make(chan struct{}),
	}
}

// newFailedSession builds a handle-less session representing a spawn failure,
// so callers can observe the Failed state through the registry.
func newFailedSession(id, name, shell string, cols, rows uint16, logPath string, logger *slog.Logger) *Session {
	s := newSession(id, name, shell, cols, rows, logPath, nil, NewOutputBuffer(id, 0, nil), logger)
	s.state = domain.StateFailed
	s.endOnce.Do(func() { close(s.done) })
	return s
}

// start transitions to Running and launches the drain loop.
func (s *Session) start() {
	s.mu.Lock()
	s.state = domain.StateRunning
	s.mu.Unlock()
	go s.drainLoop()
}

// drainLoop is the one background reader per session. It must not hold any
// lock while blocked in Read, or it would starve concurrent sends and polls.
func (s *Session) drainLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			s.forwardTap(buf[:n])
			if cleaned := s.filter.Filter(buf[:n]); cleaned != "" {
				s.out.Append(cleaned)
			}
			s.touch()
		}
		if err != nil {
			// Process exited or the handle was killed out from under us.
			// Deliver any held-back tail, then end the session.
			if tail := s.filter.Flush(); tail != "" {
				s.out.Append(tail)
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("Drain loop read ended", "session_id", s.id, "error", err)
			}
			s.end()
			return
		}
	}
}

// SendLine writes text plus a line terminator to the shell and records it in
// the command history.
func (s *Session) SendLine(text string) error {
	return s.send(text+lineTerminator, text, domain.InputModeLine)
}

// SendRaw writes text verbatim, with no terminator appended. Used for control
// characters and keystroke sequences (arrow keys, Ctrl+C, Escape).
func (s *Session) SendRaw(text string) error {
	return s.send(text, text, domain.InputModeRaw)
}

func (s *Session) send(payload, recorded string, mode domain.InputMode) error {
	if err := s.requireRunning(); err != nil {
		return err
	}

	s.writeMu.Lock()
	_, err := s.handle.Write([]byte(payload))
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write to session %s: %w", s.id, err)
	}

	entry := domain.CommandEntry{Text: recorded, Mode: mode, SentAt: time.Now()}
	s.mu.Lock()
	s.history = append(s.history, entry)
	s.lastActive = entry.SentAt
	s.mu.Unlock()

	if s.recordFn != nil {
		s.recordFn(entry)
	}
	return nil
}

// Resize propagates new geometry to the pseudo-terminal.
func (s *Session) Resize(cols, rows uint16) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

// ReadOutput returns everything accumulated since the last read and clears
// the buffer, along with whether the buffer cap discarded output since then.
// Permitted in any state; a terminated session may still hold undelivered
// output.
func (s *Session) ReadOutput() (string, bool) {
	s.touch()
	return s.out.Drain()
}

// Terminate requests process termination and stops the drain loop. Idempotent:
// calling it on an already-ended session is not an error. Killing the handle
// interrupts a drain loop blocked in Read.
func (s *Session) Terminate() {
	s.end()
}

func (s *Session) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		if s.state != domain.StateFailed {
			s.state = domain.StateTerminated
		}
		s.mu.Unlock()

		if s.handle != nil {
			if err := s.handle.Kill(); err != nil {
				s.logger.Debug("Kill returned error", "session_id", s.id, "error", err)
			}
		}
		close(s.done)
		s.logger.Info("Session ended", "session_id", s.id, "name", s.name)
	})
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the human-readable session name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a point-in-time summary of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		ID:           s.id,
		Name:         s.name,
		Shell:        s.shell,
		State:        s.state,
		Cols:         s.cols,
		Rows:         s.rows,
		LogPath:      s.logPath,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActive,
	}
}

// History returns a copy of the command history.
func (s *Session) History() []domain.CommandEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CommandEntry, len(s.history))
	copy(out, s.history)
	return out
}

// tapQueueSize bounds how many raw chunks a tap can fall behind before the
// drain loop starts dropping frames for it.
const tapQueueSize = 64

// outputTap decouples an attach consumer from the drain loop: chunks go
// through a bounded queue serviced by the tap's own goroutine, so a stalled
// consumer costs dropped frames, never a blocked drain.
type outputTap struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (t *outputTap) stop() {
	t.once.Do(func() { close(t.done) })
}

// Attach routes raw (unfiltered) output to w until the returned detach
// function is called. At most one tap is active; attaching replaces any
// previous one. Writes to w happen on a dedicated goroutine behind a bounded
// queue; when the queue is full the frame is dropped for the tap only. The
// buffered poll path is unaffected either way.
func (s *Session) Attach(w io.Writer) func() {
	t := &outputTap{
		ch:   make(chan []byte, tapQueueSize),
		done: make(chan struct{}),
	}
	go s.runTap(t, w)

	s.mu.Lock()
	old := s.tap
	s.tap = t
	s.mu.Unlock()
	if old != nil {
		old.stop()
	}
	return func() {
		s.detachTap(t)
		t.stop()
	}
}

func (s *Session) runTap(t *outputTap, w io.Writer) {
	for {
		select {
		case <-t.done:
			return
		case chunk := <-t.ch:
			if _, err := w.Write(chunk); err != nil {
				s.detachTap(t)
				s.logger.Debug("Detached broken output tap", "session_id", s.id, "error", err)
				return
			}
		}
	}
}

func (s *Session) detachTap(t *outputTap) {
	s.mu.Lock()
	if s.tap == t {
		s.tap = nil
	}
	s.mu.Unlock()
}

func (s *Session) forwardTap(raw []byte) {
	s.mu.RLock()
	t := s.tap
	s.mu.RUnlock()
	if t == nil {
		return
	}
	// The read buffer is reused by the drain loop; the tap goroutine needs
	// its own copy.
	chunk := append([]byte(nil), raw...)
	select {
	case t.ch <- chunk:
	default:
		// Consumer stalled past the queue bound; drop the frame.
	}
}

func (s *Session) requireRunning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != domain.StateRunning {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionNotRunning)
	}
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// startupCleanup discards shell initialization noise: wait for the banner and
// prompt chatter, interrupt any pending prompt state, and drop the echo.
// Best-effort; errors are ignored because the session is usable either way.
func (s *Session) startupCleanup(initWait, settle time.Duration) {
	time.Sleep(initWait)
	s.out.Drain()

	s.writeMu.Lock()
	_, err := s.handle.Write([]byte{0x03}) // Ctrl+C
	s.writeMu.Unlock()
	if err != nil {
		return
	}

	time.Sleep(settle)
	s.out.Drain()
}
