package session

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Registry tracks every spawned agent process so program-level shutdown can
// guarantee none is left running. It is owned by the orchestrator's
// lifetime scope and injected into each Runner; there is no ambient global
// registry.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*os.Process
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[int]*os.Process)}
}

// Register records a started process. Register-on-spawn pairs with
// Unregister-on-confirmed-exit.
func (r *Registry) Register(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[cmd.Process.Pid] = cmd.Process
}

// Unregister removes a process after its exit has been observed.
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// Live returns the number of tracked processes.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Shutdown terminates all tracked processes: SIGTERM first, then SIGKILL
// after the grace period. Called on every exit path, including interrupt.
func (r *Registry) Shutdown(grace time.Duration) {
	r.mu.Lock()
	procs := make([]*os.Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.procs = make(map[int]*os.Process)
	r.mu.Unlock()

	for _, p := range procs {
		terminate(p, grace)
	}
}

// terminate attempts graceful termination, escalating to SIGKILL once the
// grace period elapses.
func terminate(p *os.Process, grace time.Duration) {
	if p == nil {
		return
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		// Signal 0 probes liveness without delivering anything.
		if err := p.Signal(syscall.Signal(0)); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = p.Kill()
}
