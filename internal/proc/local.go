package proc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// LocalSpawner launches shell processes on the host behind a pty.
type LocalSpawner struct {
	defaultDistro string
	logger        *slog.Logger
}

// NewLocalSpawner creates a pty-backed spawner. defaultDistro may be empty,
// in which case KindDefault specs fall back to the login shell.
func NewLocalSpawner(defaultDistro string, logger *slog.Logger) *LocalSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSpawner{defaultDistro: defaultDistro, logger: logger}
}

// Spawn starts the resolved command with the requested geometry.
func (s *LocalSpawner) Spawn(_ context.Context, spec ShellSpec, cols, rows uint16) (Handle, error) {
	argv, err := spec.resolveArgv(s.defaultDistro)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("%w: start %q: %v", ErrSpawnFailed, argv[0], err)
	}

	h := &localHandle{cmd: cmd, ptmx: ptmx}
	// Reap the child as soon as it exits so killed or self-exiting shells
	// never linger as zombies.
	go func() {
		err := cmd.Wait()
		s.logger.Debug("Shell process exited", "command", argv[0], "error", err)
	}()

	s.logger.Info("Shell spawned", "command", argv[0], "pid", cmd.Process.Pid, "cols", cols, "rows", rows)
	return h, nil
}

type localHandle struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	killOnce sync.Once
	killErr  error
}

func (h *localHandle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

func (h *localHandle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

func (h *localHandle) Resize(cols, rows uint16) error {
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty to %dx%d: %w", cols, rows, err)
	}
	return nil
}

// Kill terminates the process and closes the pty master. Closing the master
// forces any blocked Read to return, which is what lets a drain loop exit.
// Safe to call more than once.
func (h *localHandle) Kill() error {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil {
				h.killErr = err
			}
		}
		if err := h.ptmx.Close(); err != nil && h.killErr == nil {
			h.killErr = err
		}
	})
	return h.killErr
}
