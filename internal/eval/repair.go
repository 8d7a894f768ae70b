package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Repairer fixes unbalanced delimiters in source text before it is sent for
// evaluation. Implementations return an error to decline; the caller then
// sends the original text unmodified.
type Repairer interface {
	Repair(code string) (string, error)
}

// NopRepairer leaves the text untouched.
type NopRepairer struct{}

func (NopRepairer) Repair(code string) (string, error) { return code, nil }

// DefaultRepairTimeout bounds one external repair invocation.
const DefaultRepairTimeout = 5 * time.Second

// CommandRepairer pipes the text through an external command: code on
// stdin, repaired code on stdout. A non-zero exit, empty output or timeout
// declines the repair.
type CommandRepairer struct {
	// Argv is the command and its arguments.
	Argv []string
	// Timeout bounds one invocation; DefaultRepairTimeout when zero.
	Timeout time.Duration
}

func (r *CommandRepairer) Repair(code string) (string, error) {
	if len(r.Argv) == 0 {
		return "", errors.New("no repair command configured")
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultRepairTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.Stdin = strings.NewReader(code)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("repair command failed: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", errors.New("repair command produced no output")
	}
	return out.String(), nil
}
