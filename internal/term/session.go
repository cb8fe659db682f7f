// Package term owns interactive pseudo-terminal sessions: spawning the child
// process on a PTY, pumping its output into a bounded replay buffer, fanning
// chunks out to local observers and an optional remote forwarder, and reaping
// the process on exit.
package term

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

type Kind string

const (
	KindShell     Kind = "shell"
	KindAssistant Kind = "assistant"
)

// ErrSessionNotFound indicates the id is not (or no longer) in the registry.
var ErrSessionNotFound = errors.New("session not found")

// SpawnError wraps a failure to allocate the PTY or start the child. It is
// fatal to the one spawn attempt only.
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string { return "spawn session: " + e.Cause.Error() }
func (e *SpawnError) Unwrap() error { return e.Cause }

// Session is one managed PTY process. The mutex guards the replay buffer and
// the attached flag; it is held only for short buffer operations, never across
// a read or a socket write.
type Session struct {
	ID    string
	Title string
	Cwd   string
	Kind  Kind

	pty *os.File
	cmd *exec.Cmd
	pid int

	mu       sync.Mutex
	ring     *ringBuffer
	attached bool

	closeOnce sync.Once
}

func (s *Session) closePTY() {
	s.closeOnce.Do(func() {
		_ = s.pty.Close()
	})
}

var assistantCommands = []string{"claude", "aider", "gemini", "codex", "opencode", "pi"}

func userShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	return "/bin/bash"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommand resolves the requested command line into an exec.Cmd
// constructor plus display metadata. It returns a constructor rather than a
// command because a failed PTY start may need a fresh Cmd for the retry
// without a controlling terminal.
//
// Resolution order: an empty command means the user's login shell; a program
// containing a path separator runs directly; otherwise PATH is searched; a
// program not on PATH is run through the user's interactive login shell so
// aliases and shell functions still resolve.
func buildCommand(opts Options) (func() *exec.Cmd, string, Kind, error) {
	shell := strings.TrimSpace(opts.Shell)

	title := "Shell"
	kind := KindShell

	var prog string
	var argv []string

	switch {
	case shell == "":
		prog = userShell()
	case len(opts.Args) > 0:
		prog = shell
		argv = opts.Args
	default:
		parts := strings.Fields(shell)
		prog = parts[0]
		argv = parts[1:]
	}

	if shell != "" {
		title = filepath.Base(prog)
	}
	if opts.Assistant {
		kind = KindAssistant
	} else if shell != "" {
		base := filepath.Base(prog)
		for _, c := range assistantCommands {
			if base == c {
				kind = KindAssistant
				break
			}
		}
	}

	resolved := prog
	if shell != "" && !strings.ContainsRune(prog, os.PathSeparator) {
		path, err := exec.LookPath(prog)
		if err != nil {
			// Not on PATH: run the whole command line through the user's
			// shell so rc-file PATH additions, aliases and functions apply.
			quoted := make([]string, 0, len(argv)+1)
			quoted = append(quoted, prog)
			for _, a := range argv {
				quoted = append(quoted, shellQuote(a))
			}
			line := strings.Join(quoted, " ")
			sh := userShell()
			return func() *exec.Cmd {
				cmd := exec.Command(sh, "-i", "-l", "-c", "exec "+line)
				configureCommand(cmd, opts.Cwd)
				return cmd
			}, title, kind, nil
		}
		resolved = path
	}

	return func() *exec.Cmd {
		cmd := exec.Command(resolved, argv...)
		configureCommand(cmd, opts.Cwd)
		return cmd
	}, title, kind, nil
}

func configureCommand(cmd *exec.Cmd, cwd string) {
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	)
	if path := supplementalPath(); path != "" {
		cmd.Env = append(cmd.Env, "PATH="+path)
	}
}

// supplementalPath prepends common tool locations that GUI-launched processes
// tend to miss (the host may not have been started from a login shell).
func supplementalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	extra := []string{
		filepath.Join(home, "bin"),
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".cargo", "bin"),
		filepath.Join(home, ".pyenv", "bin"),
		filepath.Join(home, ".pyenv", "shims"),
	}
	if runtime.GOOS == "darwin" {
		extra = append(extra, "/opt/homebrew/bin", "/opt/homebrew/sbin")
	}
	extra = append(extra, "/usr/local/bin")
	return strings.Join(extra, ":") + ":" + os.Getenv("PATH")
}

// startPTY opens a PTY pair, sizes it, and starts cmd on the subordinate side
// in a new session so the whole process group can be signaled later. The
// subordinate fd is closed after the start; only the master survives.
func startPTY(cmd *exec.Cmd, ws *pty.Winsize, setCTTY bool) (*os.File, error) {
	master, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tty.Close() }()

	if ws != nil {
		_ = pty.Setsize(master, ws)
	}

	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = setCTTY
	if setCTTY {
		cmd.SysProcAttr.Ctty = int(tty.Fd())
	} else {
		cmd.SysProcAttr.Ctty = 0
	}

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		return nil, err
	}
	return master, nil
}

// spawnPTY starts the command on a fresh PTY, retrying without a controlling
// terminal on platforms/Go versions that reject Setctty.
func spawnPTY(build func() *exec.Cmd, ws *pty.Winsize) (*exec.Cmd, *os.File, error) {
	cmd := build()
	master, err := startPTY(cmd, ws, true)
	if err != nil && strings.Contains(err.Error(), "Setctty set but Ctty not valid") {
		cmd = build()
		master, err = startPTY(cmd, ws, false)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("start pty: %w", err)
	}
	return cmd, master, nil
}
