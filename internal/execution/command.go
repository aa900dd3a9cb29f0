package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
)

const stderrTailBytes = 1000

// ErrEmptyCommand is returned when a Spec carries no command.
var ErrEmptyCommand = errors.New("execution: empty command")

// OutputsFunc derives the expected outputs for a spec.
type OutputsFunc func(spec Spec) attrs.Attributes

// Redactor removes sensitive values from captured tool output.
type Redactor interface {
	Redact(content string) string
}

// CommandExecutor runs Spec.Command as a local process and captures its
// output. It imposes no timeout; cancelling ctx kills the process.
type CommandExecutor struct {
	logger   *logging.Logger
	outputs  OutputsFunc
	redactor Redactor
}

// CommandOption configures a CommandExecutor.
type CommandOption func(*CommandExecutor)

// WithCommandLogger sets the diagnostic logger.
func WithCommandLogger(l *logging.Logger) CommandOption {
	return func(e *CommandExecutor) { e.logger = l }
}

// WithExpectedOutputs sets the function that attaches expected outputs to
// every record.
func WithExpectedOutputs(fn OutputsFunc) CommandOption {
	return func(e *CommandExecutor) { e.outputs = fn }
}

// WithRedactor scrubs stdout, stderr, and the failure message of every
// record before it is returned.
func WithRedactor(r Redactor) CommandOption {
	return func(e *CommandExecutor) { e.redactor = r }
}

// NewCommandExecutor creates a CommandExecutor.
func NewCommandExecutor(opts ...CommandOption) *CommandExecutor {
	e := &CommandExecutor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Executor.
func (e *CommandExecutor) Execute(ctx context.Context, spec Spec) (*Record, error) {
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	logger := e.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204 -- the command is supplied by the operator running the procedure.
	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info(ctx, "starting external tool",
		zap.String("tool", spec.Procedure),
		zap.Strings("command", spec.Command),
	)

	start := time.Now()
	runErr := cmd.Run()
	end := time.Now()

	record := &Record{
		Tool:            spec.Procedure,
		Participant:     spec.Participant,
		Command:         append([]string(nil), spec.Command...),
		ExitCode:        0,
		Stdout:          e.redact(stdout.String()),
		Stderr:          e.redact(stderr.String()),
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		Success:         runErr == nil,
	}
	if e.outputs != nil {
		record.ExpectedOutputs = e.outputs(spec)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never started or could not be waited on.
			return nil, fmt.Errorf("run %s: %w", spec.Procedure, runErr)
		}
		record.ExitCode = exitErr.ExitCode()
		record.Error = failureMessage(spec.Procedure, record.ExitCode, record.Stderr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			record.Error = fmt.Sprintf("%s: %v", record.Error, ctxErr)
		}
		logger.Warn(ctx, "external tool failed",
			zap.String("tool", spec.Procedure),
			zap.Int("exit_code", record.ExitCode),
			zap.Duration("duration", end.Sub(start)),
		)
		return record, nil
	}

	logger.Info(ctx, "external tool completed",
		zap.String("tool", spec.Procedure),
		zap.Duration("duration", end.Sub(start)),
	)
	return record, nil
}

func failureMessage(tool string, exitCode int, stderr string) string {
	msg := fmt.Sprintf("%s failed with exit code %d", tool, exitCode)
	if stderr == "" {
		return msg
	}
	tail := stderr
	if len(tail) > stderrTailBytes {
		tail = tail[len(tail)-stderrTailBytes:]
	}
	return msg + "\n\nStderr (last 1000 chars):\n" + tail
}

func (e *CommandExecutor) redact(content string) string {
	if e.redactor == nil || content == "" {
		return content
	}
	return e.redactor.Redact(content)
}
