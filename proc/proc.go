// Package proc owns subprocess lifecycle for candidate applications: async
// start with output capture, liveness, and termination that never leaves a
// child process behind.
package proc

import (
	"bytes"
	"os"
	"os/exec"
	"sync"
	"time"

	"appvet/logger"
)

const (
	// Grace period between the polite stop signal and the forceful kill.
	stopGracePeriod = 600 * time.Millisecond
	// Settle period after the forceful kill before Stop returns.
	stopSettlePeriod = 300 * time.Millisecond
)

// Live handles, tracked so shutdown paths that bypass the per-validation
// defers (signal handlers) can still reap children.
var (
	activeMu sync.Mutex
	active   = map[*Handle]struct{}{}
)

func register(h *Handle) {
	activeMu.Lock()
	active[h] = struct{}{}
	activeMu.Unlock()
}

func unregister(h *Handle) {
	activeMu.Lock()
	delete(active, h)
	activeMu.Unlock()
}

// StopAll stops every process still running.
func StopAll(graceful bool) {
	activeMu.Lock()
	handles := make([]*Handle, 0, len(active))
	for h := range active {
		handles = append(handles, h)
	}
	activeMu.Unlock()
	for _, h := range handles {
		h.Stop(graceful)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Handle is a started application process. One Handle is exclusively owned
// by one validation attempt.
type Handle struct {
	cmd    *exec.Cmd
	stdout lockedBuffer
	stderr lockedBuffer

	done chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error
	stopped  bool
}

// Start launches command asynchronously in cwd with env overlaid on the
// parent environment, capturing stdout and stderr separately.
func Start(command string, args []string, cwd string, env map[string]string) (*Handle, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.SysProcAttr = sysProcAttr()
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	register(h)

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.waitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		} else {
			h.exitCode = -1
		}
		h.mu.Unlock()
		unregister(h)
		close(h.done)
	}()

	return h, nil
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// IsRunning reports whether the process has not yet exited.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// ExitCode returns the exit code, valid only once IsRunning is false.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Stdout returns everything the process has written to stdout so far.
func (h *Handle) Stdout() string { return h.stdout.String() }

// Stderr returns everything the process has written to stderr so far.
func (h *Handle) Stderr() string { return h.stderr.String() }

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop terminates the process and, where the platform does not guarantee
// children die with the parent, its process tree. When graceful, a polite
// stop signal is sent first and escalation happens only after the grace
// period. Stop never returns with the process still running.
func (h *Handle) Stop(graceful bool) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		h.waitExit(stopSettlePeriod)
		return
	}
	h.stopped = true
	alive := !h.exited
	h.mu.Unlock()

	if !alive {
		return
	}
	pid := h.PID()

	if graceful {
		if err := terminateGracefully(pid); err != nil {
			logger.Debugf("graceful stop of pid %d failed: %v", pid, err)
		}
		if h.waitExit(stopGracePeriod) {
			return
		}
	}

	killTree(pid)
	if !h.waitExit(stopSettlePeriod) {
		// Last resort against a wedged direct child.
		_ = h.cmd.Process.Kill()
		h.waitExit(stopSettlePeriod)
	}
}

func (h *Handle) waitExit(d time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(d):
		return false
	}
}
