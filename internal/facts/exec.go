// Package facts gathers raw configuration facts from the live system
// (installed packages, kernel, hardware, tracked config files) and implements
// the reconcile.System collaborator that applies changes back. It is the only
// package that shells out or touches /proc.
package facts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

const (
	// Command execution timeout.
	commandTimeout = 10 * time.Second
	// Maximum output size to prevent memory exhaustion.
	maxOutputSize = 64 * 1024
)

// runCommand executes a command and returns its trimmed stdout. Stderr is
// folded into the error. The context carries a per-command timeout.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("command %s timed out after %v", name, duration)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("command %s failed: %s", name, msg)
	}

	log.Printf("[DEBUG] Command completed in %v: %s %v", duration, name, args)
	return strings.TrimSpace(limitOutput(stdout.Bytes(), maxOutputSize)), nil
}

// exitCode runs a command purely for its exit status.
func exitCode(ctx context.Context, name string, args ...string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("command %s failed: %w", name, err)
}

// limitOutput truncates output if it exceeds maxSize.
func limitOutput(data []byte, maxSize int) string {
	if len(data) > maxSize {
		return string(data[:maxSize]) + "\n[output truncated]"
	}
	return string(data)
}
