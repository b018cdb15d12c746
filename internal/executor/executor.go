// Package executor runs each work item in a fresh OS process with a hard
// deadline and guarantees no process it started outlives Run.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
)

// Compile-time interface conformance check.
var _ core.ItemRunner = (*Executor)(nil)

const (
	defaultGracePeriod    = 5 * time.Second
	defaultMaxOutputBytes = 1 << 20
	defaultSweepInterval  = 500 * time.Millisecond
	stderrTailBytes       = 64 << 10
	diagnosticBytes       = 4 << 10
)

// Config describes the unit command.
type Config struct {
	// Command may contain arguments ("python fixer.py"); they are split on
	// whitespace and placed before Args.
	Command string
	Args    []string
	WorkDir string
	Env     map[string]string

	// GracePeriod is the time between SIGTERM and SIGKILL, and the longest
	// Run waits for output pipes after the unit exits. On timeout it is
	// capped at a quarter of the timeout and ends at the deadline.
	GracePeriod time.Duration
	// MaxOutputBytes bounds how much stdout is retained.
	MaxOutputBytes int
	// SweepInterval is how often descendants are recorded while the unit runs.
	SweepInterval time.Duration
}

// Executor implements core.ItemRunner with one process per item.
type Executor struct {
	cfg    Config
	path   string
	args   []string
	logger *logging.Logger
}

// New validates cfg and returns an executor.
func New(cfg Config, logger *logging.Logger) (*Executor, error) {
	parts := strings.Fields(cfg.Command)
	if len(parts) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "executor command not configured")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	args := make([]string, 0, len(parts)-1+len(cfg.Args))
	args = append(args, parts[1:]...)
	args = append(args, cfg.Args...)
	return &Executor{
		cfg:    cfg,
		path:   parts[0],
		args:   args,
		logger: logger,
	}, nil
}

// Run executes item in a new process and blocks until that process and every
// process it spawned are gone. It never retries and never
// mutates anything the caller owns.
func (e *Executor) Run(ctx context.Context, item core.WorkItem, timeout time.Duration) core.ExecutionResult {
	start := time.Now()
	log := e.logger.WithItem(item.ID, item.AttemptCount)
	res := core.ExecutionResult{Status: core.ItemStatusFailed, ExitCode: -1}

	if ctx.Err() != nil {
		res.Err = core.ErrCancelledRun("run cancelled before unit launch")
		return res
	}

	input, err := encodeInput(item)
	if err != nil {
		res.Err = core.ErrExecution(core.CodeLaunchFailure, "encoding unit input").WithCause(err)
		return res
	}

	unitID := uuid.NewString()

	// #nosec G204 -- command comes from validated config
	cmd := exec.Command(e.path, e.args...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdin = bytes.NewReader(input)
	stdout := newTailBuffer(e.cfg.MaxOutputBytes)
	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = e.environ(item, unitID)
	cmd.WaitDelay = e.cfg.GracePeriod
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		log.Error("executor: launch failed", "path", e.path, "error", err)
		res.Err = core.ErrExecution(core.CodeLaunchFailure,
			fmt.Sprintf("starting %s", e.path)).WithCause(err)
		res.Duration = time.Since(start)
		return res
	}
	res.PID = cmd.Process.Pid
	log.Info("executor: process started", "pid", res.PID, "timeout", timeout)

	// Sweeping must finish even when ctx is what ended the unit.
	sweepCtx := context.WithoutCancel(ctx)

	sw := newSweeper(sweepCtx, res.PID, EnvUnitID+"="+unitID)
	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	grace := e.graceFor(timeout)
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout - grace)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	// Once the unit itself is gone, anything it left behind may be holding
	// its output pipes; killing it lets Wait return.
	poll := func() bool {
		if !sw.rootExited(sweepCtx) {
			sw.snapshot(sweepCtx)
			return false
		}
		killGroup(cmd)
		sw.killRemaining(sweepCtx)
		return true
	}

	out := waitUnit(ctx, exited, deadline, ticker.C, poll)
	timedOut, cancelled := out == outcomeTimedOut, out == outcomeCancelled

	if timedOut || cancelled {
		sw.snapshot(sweepCtx)
		log.Warn("executor: terminating unit", "pid", res.PID, "timed_out", timedOut, "grace", grace)
		if err := terminateGroup(cmd, grace, exited); err != nil {
			log.Warn("executor: terminate failed", "pid", res.PID, "error", err)
		}
	}
	killGroup(cmd)
	if n := sw.killRemaining(sweepCtx); n > 0 {
		log.Warn("executor: killed escaped descendants", "pid", res.PID, "count", n)
	}
	<-exited
	res.Duration = time.Since(start)

	switch {
	case timedOut:
		res.Status = core.ItemStatusTimedOut
		res.Err = core.ErrTimeout(fmt.Sprintf("unit exceeded %s", timeout))
		res.Output = tail(stderr.String(), diagnosticBytes)
		log.Error("executor: unit timed out", "pid", res.PID, "duration", res.Duration)
	case cancelled:
		res.Err = core.ErrCancelledRun("run cancelled while unit was running")
		log.Info("executor: unit cancelled", "pid", res.PID, "duration", res.Duration)
	default:
		e.classifyExit(&res, waitErr, stdout, stderr, log)
	}
	return res
}

type outcome int

const (
	outcomeExited outcome = iota
	outcomeTimedOut
	outcomeCancelled
)

// waitUnit blocks until the unit exits, the deadline fires or ctx is done.
// poll runs on every tick and reports whether the unit process is gone. A
// unit that has already exited is never reported as timed out or cancelled.
func waitUnit(ctx context.Context, exited <-chan struct{}, deadline, tick <-chan time.Time, poll func() bool) outcome {
	finished := func() bool {
		select {
		case <-exited:
			return true
		default:
			return poll()
		}
	}
	for {
		select {
		case <-exited:
			return outcomeExited
		case <-tick:
			poll()
		case <-deadline:
			if finished() {
				return outcomeExited
			}
			return outcomeTimedOut
		case <-ctx.Done():
			if finished() {
				return outcomeExited
			}
			return outcomeCancelled
		}
	}
}

// graceFor returns the SIGTERM to SIGKILL window for timeout. It is taken
// out of the timeout, never added to it, and is at most a quarter of it.
func (e *Executor) graceFor(timeout time.Duration) time.Duration {
	grace := e.cfg.GracePeriod
	if timeout > 0 && grace > timeout/4 {
		grace = timeout / 4
	}
	return grace
}

func (e *Executor) classifyExit(res *core.ExecutionResult, waitErr error, stdout, stderr *tailBuffer, log *logging.Logger) {
	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		diag := tail(stderr.String(), diagnosticBytes)
		res.Output = diag
		res.Err = core.ErrExecution(core.CodeCrashExit,
			fmt.Sprintf("unit exited with code %d: %s", res.ExitCode, lastLine(diag))).
			WithDetail("exit_code", res.ExitCode)
		log.Error("executor: unit crashed", "pid", res.PID, "exit_code", res.ExitCode,
			"duration", res.Duration, "stderr", diag)
		return
	case waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay):
		res.Err = core.ErrExecution(core.CodeCrashExit, "waiting for unit").WithCause(waitErr)
		log.Error("executor: wait failed", "pid", res.PID, "error", waitErr)
		return
	}

	res.ExitCode = 0
	unit, err := parseResult(stdout.Bytes())
	if err != nil {
		res.Output = tail(stderr.String(), diagnosticBytes)
		res.Err = core.ErrExecution(core.CodeBadResult, "unit exited cleanly without a terminal result").WithCause(err)
		log.Error("executor: bad terminal result", "pid", res.PID, "error", err,
			"stdout_truncated", stdout.Truncated())
		return
	}

	res.Output = unit.Output
	if unit.Status == UnitSucceeded {
		res.Status = core.ItemStatusSucceeded
		log.Info("executor: unit succeeded", "pid", res.PID, "duration", res.Duration)
		return
	}
	msg := unit.Error
	if msg == "" {
		msg = "unit reported failure"
	}
	res.Err = core.ErrExecution(core.CodeUnitFailed, msg)
	log.Warn("executor: unit reported failure", "pid", res.PID, "error", msg, "duration", res.Duration)
}

func (e *Executor) environ(item core.WorkItem, unitID string) []string {
	env := os.Environ()
	env = append(env,
		EnvItemID+"="+item.ID,
		EnvAttempt+"="+strconv.Itoa(item.AttemptCount),
		EnvUnitID+"="+unitID,
	)
	keys := make([]string, 0, len(e.cfg.Env))
	for k := range e.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.cfg.Env[k])
	}
	return env
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n\t ")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
