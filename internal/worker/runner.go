package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/picorelay/internal/metrics"
	"github.com/pscheid92/picorelay/internal/platform/logging"
)

const waitDelay = 2 * time.Second

// Invocation describes one external program run.
type Invocation struct {
	Name    string // metrics/log label, e.g. "capture"
	Program string
	Args    []string
	Dir     string
}

// Result is what the process left behind. ExitCode is -1 when the process
// never started or was killed by a signal.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.ExitCode, e.Stderr)
}

// LaunchError reports a process that could not be started.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Runner starts worker processes. The zero value runs without a timeout.
type Runner struct {
	// Timeout bounds every run when positive. Zero means no deadline; the
	// caller's context still cancels.
	Timeout time.Duration

	clock clockwork.Clock
}

// NewRunner creates a runner with the given per-run timeout (0 = none).
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{Timeout: timeout, clock: clockwork.NewRealClock()}
}

// Run executes inv and waits for it. A nil error means exit status 0.
// Non-zero exit returns *ExitError alongside the populated Result.
// Cancelling ctx kills the process and resolves as failure.
func (r *Runner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	clock := r.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGKILL) }
	cmd.WaitDelay = waitDelay

	logger := logging.WithWorker(inv.Name).With("program", inv.Program)
	logger.DebugContext(ctx, "Worker starting", "args", inv.Args, "dir", inv.Dir)

	start := clock.Now()
	if err := cmd.Start(); err != nil {
		metrics.WorkerRunsTotal.WithLabelValues(inv.Name, resultLaunchError).Inc()
		logger.ErrorContext(ctx, "Worker failed to start", "error", err)
		return Result{ExitCode: -1}, &LaunchError{Name: inv.Name, Err: err}
	}

	waitErr := cmd.Wait()
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: clock.Since(start),
	}
	metrics.WorkerRunDuration.WithLabelValues(inv.Name).Observe(res.Duration.Seconds())

	if res.Stdout != "" {
		logger.InfoContext(ctx, "Worker stdout", "output", strings.TrimSpace(res.Stdout))
	}
	if res.Stderr != "" {
		logger.WarnContext(ctx, "Worker stderr", "output", res.Stderr)
	}

	label, err := resolve(inv, res, waitErr, ctx.Err())
	metrics.WorkerRunsTotal.WithLabelValues(inv.Name, label).Inc()
	switch label {
	case resultCanceled:
		logger.WarnContext(ctx, "Worker canceled", "duration", res.Duration, "error", ctx.Err())
	case resultLaunchError:
		logger.ErrorContext(ctx, "Worker wait failed", "error", waitErr)
	case resultExitError:
		logger.WarnContext(ctx, "Worker exited with failure", "exit_code", res.ExitCode, "duration", res.Duration)
	default:
		logger.InfoContext(ctx, "Worker finished", "duration", res.Duration)
	}
	return res, err
}

const (
	resultSuccess     = "success"
	resultExitError   = "exit_error"
	resultLaunchError = "launch_error"
	resultCanceled    = "canceled"
)

// resolve maps how the process ended to a result label and error. A process
// that exited cleanly counts as success even if ctx ended meanwhile.
func resolve(inv Invocation, res Result, waitErr, ctxErr error) (string, error) {
	if waitErr == nil {
		return resultSuccess, nil
	}
	if ctxErr != nil {
		return resultCanceled, fmt.Errorf("%s canceled: %w", inv.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return resultLaunchError, &LaunchError{Name: inv.Name, Err: waitErr}
	}
	return resultExitError, &ExitError{Name: inv.Name, ExitCode: res.ExitCode, Stderr: res.Stderr}
}
