package ap

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Proc is a handle to one supervised service process.
type Proc interface {
	Alive() bool
	// Stop terminates the process, escalating from SIGTERM to SIGKILL.
	Stop() error
}

// ProcRunner launches service processes. Abstracted so tests run without
// hostapd or dnsmasq installed.
type ProcRunner interface {
	Start(name string, args ...string) (Proc, error)
}

// ExecProcRunner launches real processes through os/exec.
type ExecProcRunner struct{}

func (ExecProcRunner) Start(name string, args ...string) (Proc, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s not installed: %w", name, err)
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &execProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProc) Stop() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(3 * time.Second):
		return p.cmd.Process.Kill()
	}
}
