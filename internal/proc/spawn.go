// Package proc spawns and controls shell processes behind a pseudo-terminal.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSpawnFailed indicates the shell process could not be started.
var ErrSpawnFailed = errors.New("spawn failed")

// ShellKind selects how a session's shell invocation is resolved.
type ShellKind int

const (
	// KindDefault uses the server-wide default distro, or a plain login shell
	// when no default is configured.
	KindDefault ShellKind = iota
	// KindDistro launches a named WSL distro (local backend) or the distro's
	// container image (docker backend).
	KindDistro
	// KindCommand launches an explicit argv verbatim.
	KindCommand
)

// ShellSpec is a tagged variant describing what to launch. It is resolved to a
// concrete invocation once, at session creation time.
type ShellSpec struct {
	Kind   ShellKind
	Distro string
	Argv   []string
}

// NamedDistro returns a spec launching the named distro.
func NamedDistro(name string) ShellSpec {
	return ShellSpec{Kind: KindDistro, Distro: name}
}

// ExplicitCommand returns a spec launching argv verbatim.
func ExplicitCommand(argv []string) ShellSpec {
	return ShellSpec{Kind: KindCommand, Argv: argv}
}

// String renders the spec for logs and session metadata.
func (s ShellSpec) String() string {
	switch s.Kind {
	case KindDistro:
		return "distro:" + s.Distro
	case KindCommand:
		return strings.Join(s.Argv, " ")
	default:
		return "default"
	}
}

// resolveArgv turns the spec into a concrete command line for the local
// backend. Named distros go through wsl.exe, which is on PATH both on Windows
// and inside WSL distros via interop.
func (s ShellSpec) resolveArgv(defaultDistro string) ([]string, error) {
	switch s.Kind {
	case KindDistro:
		if s.Distro == "" {
			return nil, fmt.Errorf("%w: empty distro name", ErrSpawnFailed)
		}
		return []string{"wsl.exe", "-d", s.Distro}, nil
	case KindCommand:
		if len(s.Argv) == 0 || s.Argv[0] == "" {
			return nil, fmt.Errorf("%w: empty command", ErrSpawnFailed)
		}
		return s.Argv, nil
	default:
		if defaultDistro != "" {
			return NamedDistro(defaultDistro).resolveArgv("")
		}
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
		return []string{shell}, nil
	}
}

// Handle is a live shell process behind a pseudo-terminal. Read blocks until
// output is available; Kill interrupts a blocked Read so the caller's drain
// loop can observe termination. Resize is supported by every backend: the
// local handle drives the pty directly, the docker handle the container TTY.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
}

// Spawner launches shell processes for terminal sessions.
type Spawner interface {
	Spawn(ctx context.Context, spec ShellSpec, cols, rows uint16) (Handle, error)
}
