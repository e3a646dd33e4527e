package backend

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes external network tools. Abstracted so the variants can
// be tested without nmcli or wpa_cli installed.
type Runner interface {
	// Run executes the tool and returns its combined trimmed output.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Available reports whether the tool exists on PATH.
	Available(name string) bool
}

// ExecRunner runs tools through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (ExecRunner) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
