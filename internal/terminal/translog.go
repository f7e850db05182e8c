package terminal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TranscriptConfig controls per-session transcript files.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type transcriptEvent struct {
	sessionID string
	text      string
	closeFile bool
}

// TranscriptLogger appends cleaned session output to one log file per
// session. Writes go through a bounded queue serviced by a single goroutine:
// a full queue drops the event with a warning instead of blocking the drain
// path, and write failures never propagate to the engine.
type TranscriptLogger struct {
	cfg    TranscriptConfig
	logger *slog.Logger
	queue  chan transcriptEvent
	wg     sync.WaitGroup

	mu    sync.Mutex
	paths map[string]string
}

// NewTranscriptLogger creates the transcript directory and starts the writer
// goroutine. A disabled config yields a logger whose methods are no-ops.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &TranscriptLogger{cfg: cfg, logger: logger}, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &TranscriptLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan transcriptEvent, cfg.QueueSize),
		paths:  make(map[string]string),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Open registers a session and returns its transcript path, or "" when
// transcripts are disabled.
func (l *TranscriptLogger) Open(sessionID, name string) string {
	if l == nil || !l.cfg.Enabled {
		return ""
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	path := filepath.Join(l.cfg.Dir, sanitizeName(name)+"_"+short+".log")

	l.mu.Lock()
	l.paths[sessionID] = path
	l.mu.Unlock()
	return path
}

// AppendLine queues text for the session's transcript. Fire-and-forget.
func (l *TranscriptLogger) AppendLine(sessionID, text string) {
	if l == nil || !l.cfg.Enabled || text == "" {
		return
	}
	select {
	case l.queue <- transcriptEvent{sessionID: sessionID, text: text}:
	default:
		l.logger.Warn("Transcript queue full, dropping output", "session_id", sessionID, "dropped_bytes", len(text))
	}
}

// CloseSession flushes and closes the session's transcript file.
func (l *TranscriptLogger) CloseSession(sessionID string) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	select {
	case l.queue <- transcriptEvent{sessionID: sessionID, closeFile: true}:
	default:
		l.logger.Warn("Transcript queue full, file left open", "session_id", sessionID)
	}

	l.mu.Lock()
	delete(l.paths, sessionID)
	l.mu.Unlock()
}

// Close stops the writer goroutine after the queue drains and closes all
// open transcript files.
func (l *TranscriptLogger) Close() error {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	close(l.queue)
	l.wg.Wait()
	return nil
}

func (l *TranscriptLogger) run() {
	defer l.wg.Done()

	files := make(map[string]*os.File)
	defer func() {
		for id, f := range files {
			if err := f.Close(); err != nil {
				l.logger.Warn("Failed to close transcript", "session_id", id, "error", err)
			}
		}
	}()

	for ev := range l.queue {
		if ev.closeFile {
			if f, ok := files[ev.sessionID]; ok {
				delete(files, ev.sessionID)
				if err := f.Close(); err != nil {
					l.logger.Warn("Failed to close transcript", "session_id", ev.sessionID, "error", err)
				}
			}
			continue
		}

		f, ok := files[ev.sessionID]
		if !ok {
			l.mu.Lock()
			path := l.paths[ev.sessionID]
			l.mu.Unlock()
			if path == "" {
				continue // session never registered or already closed
			}
			var err error
			f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				l.logger.Warn("Failed to open transcript", "session_id", ev.sessionID, "path", path, "error", err)
				continue
			}
			files[ev.sessionID] = f
		}

		if _, err := f.WriteString(ev.text); err != nil {
			l.logger.Warn("Failed to write transcript", "session_id", ev.sessionID, "error", err)
		}
	}
}

// sanitizeName reduces a session name to a filename-safe form.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}
