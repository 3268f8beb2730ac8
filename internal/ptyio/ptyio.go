// Package ptyio provides the concrete PtyHandle behind the abstract
// `{open, write, read, resize, close}` collaborator the server core
// treats as external: PTY creation and child-process plumbing.
package ptyio

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// SpawnOptions mirrors the spawn RPC method's options object
// (spec.md §4.3): `{ argv, cwd, env, cols, rows }`.
type SpawnOptions struct {
	Argv []string
	Cwd  string
	Env  []string
	Cols uint16
	Rows uint16
}

// Handle is a concrete PtyHandle: a running child process attached to
// a PTY master fd, with resize/write/close operations.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// Open starts argv[0] with the remaining argv as arguments, attached to
// a new PTY sized cols x rows, and returns the handle; its master fd is
// available through Fd.
func Open(opts SpawnOptions) (*Handle, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("ptyio: spawn requires a non-empty argv")
	}
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("ptyio: start pty: %w", err)
	}
	return &Handle{cmd: cmd, ptmx: ptmx}, nil
}

// Fd returns the PTY master file descriptor, for reactor registration
// (writes) and the reader worker (blocking reads).
func (h *Handle) Fd() int {
	return int(h.ptmx.Fd())
}

// File exposes the underlying *os.File for the reader worker's blocking
// Read loop, which bypasses the reactor entirely per spec.md §4.4.
func (h *Handle) File() *os.File {
	return h.ptmx
}

// Write writes p directly to the PTY master. Used both by the reactor
// (client-driven writes/key events) and by the reader worker's
// synchronous reply-stream relay.
func (h *Handle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

// Resize changes the PTY window size, which the shell observes as
// SIGWINCH.
func (h *Handle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Pid returns the child process's pid.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Wait blocks until the child exits and returns its exit status. The
// session manager calls this on the reactor goroutine once the reader
// worker has reported EOF on the master fd through the dirty pipe.
func (h *Handle) Wait() (exitStatus int, err error) {
	err = h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Close closes the PTY master fd. The child, if still running, receives
// EOF/SIGHUP on its controlling terminal.
func (h *Handle) Close() error {
	return h.ptmx.Close()
}
