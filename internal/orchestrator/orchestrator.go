package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/metrics"
	"github.com/fyrsmithlabs/voxelops/internal/sanitize"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

const tracerName = "github.com/fyrsmithlabs/voxelops/internal/orchestrator"

var errNoSink = errors.New("audit sink unavailable")

// Orchestrator sequences validation, execution and audit for procedure runs.
// It is safe for concurrent use; concurrent runs for the same
// (procedure, participant, session) should be serialized by the caller.
type Orchestrator struct {
	registry      *validation.Registry
	executor      execution.Executor
	logger        *logging.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	newRunID      func() string
	now           func() time.Time
	defaultLogDir string
	progress      ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer used for run and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRunIDGenerator overrides run id minting.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// WithClock overrides the time source. The default, time.Now, carries a
// monotonic reading so durations are immune to wall clock steps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDefaultLogDir sets the audit directory used when a request has none.
func WithDefaultLogDir(dir string) Option {
	return func(o *Orchestrator) { o.defaultLogDir = dir }
}

// WithProgress sets a callback invoked after every transition.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an Orchestrator over a validator registry and an executor.
func New(registry *validation.Registry, executor execution.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		executor: executor,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(tracerName),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one pass through the state machine. It returns an error only
// for configuration problems, before any audit event is written.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*ProcedureResult, error) {
	start := o.now()

	validator, err := o.registry.Lookup(req.Procedure)
	if err != nil {
		return nil, err
	}
	participant, session, err := resolveSubject(req)
	if err != nil {
		return nil, &validation.ConfigError{Procedure: req.Procedure, Err: err}
	}

	runID := o.newRunID()
	ctx = logging.WithRun(ctx, logging.Run{
		ID:          runID,
		Procedure:   req.Procedure,
		Participant: participant,
		Session:     session,
	})
	ctx = logging.WithLogger(ctx, o.logger)

	ctx, span := o.tracer.Start(ctx, "voxelops.procedure", trace.WithAttributes(
		attribute.String("voxelops.run_id", runID),
		attribute.String("voxelops.procedure", req.Procedure),
		attribute.String("voxelops.participant", participant),
		attribute.String("voxelops.session", session),
	))
	defer span.End()

	t := o.openTrail(ctx, req, participant, session, runID)
	res := &ProcedureResult{
		RunID:       runID,
		Procedure:   req.Procedure,
		Participant: participant,
		Session:     session,
		StartTime:   start,
	}

	o.logger.Info(ctx, "procedure started")
	t.record(ctx, audit.EventProcedureStart, map[string]any{
		"inputs":  attrs.Snapshot(req.Inputs),
		"config":  attrs.Snapshot(req.Config),
		"command": stringsToAny(req.Command),
	})

	vc := validation.NewPreContext(req.Procedure, participant, session, req.Inputs, req.Config)
	res.Status = o.advance(ctx, validator, vc, req, res, t)

	res.EndTime = o.now()
	res.Duration = res.EndTime.Sub(start)

	complete := map[string]any{
		"status":           string(res.Status),
		"success":          res.Success(),
		"duration_seconds": res.DurationSeconds(),
	}
	if reason := res.FailureReason(); reason != "" {
		complete["failure_reason"] = reason
	}
	t.record(ctx, audit.EventProcedureComplete, complete)
	res.AuditLogFile = t.auditLogFile()

	if o.metrics != nil {
		o.metrics.RecordRun(req.Procedure, string(res.Status), res.DurationSeconds())
	}
	span.SetAttributes(attribute.String("voxelops.status", string(res.Status)))
	if res.Success() {
		span.SetStatus(codes.Ok, "")
		o.logger.Info(ctx, "procedure succeeded", zap.Duration("duration", res.Duration))
	} else {
		span.SetStatus(codes.Error, string(res.Status))
		o.logger.Warn(ctx, "procedure failed",
			zap.String("status", string(res.Status)),
			zap.String("reason", res.FailureReason()),
			zap.Duration("duration", res.Duration),
		)
	}
	return res, nil
}

// advance runs pre-validation, execution and post-validation, stopping at the
// first failing stage.
func (o *Orchestrator) advance(ctx context.Context, v *validation.Validator, vc validation.Context,
	req Request, res *ProcedureResult, t *trail) Status {
	res.PreValidation = o.validatePhase(ctx, "voxelops.pre_validation", func(ctx context.Context) *validation.Report {
		return v.ValidatePre(ctx, vc)
	})
	t.record(ctx, audit.EventPreValidation, res.PreValidation.Map())
	if !res.PreValidation.Passed() {
		return StatusPreValidationFailed
	}

	t.record(ctx, audit.EventExecutionStart, map[string]any{"command": stringsToAny(req.Command)})
	record, err := o.execute(ctx, execution.Spec{
		Procedure:   req.Procedure,
		Participant: vc.Participant(),
		Session:     vc.Session(),
		Inputs:      req.Inputs,
		Config:      req.Config,
		Command:     append([]string(nil), req.Command...),
	})
	res.Execution = record
	if err != nil || !record.Success {
		t.record(ctx, audit.EventExecutionFailed, map[string]any{
			"error":     record.Error,
			"exit_code": record.ExitCode,
		})
		return StatusExecutionFailed
	}
	t.record(ctx, audit.EventExecutionSuccess, map[string]any{
		"duration_seconds": record.DurationSeconds,
		"exit_code":        record.ExitCode,
	})

	outputs := record.ExpectedOutputs
	if outputs == nil {
		outputs = req.ExpectedOutputs
	}
	postCtx := vc.ForPost(outputs, record)
	res.PostValidation = o.validatePhase(ctx, "voxelops.post_validation", func(ctx context.Context) *validation.Report {
		report, err := v.ValidatePost(ctx, postCtx)
		if err != nil {
			// ForPost always yields a post context.
			panic(err)
		}
		return report
	})
	t.record(ctx, audit.EventPostValidation, res.PostValidation.Map())
	if !res.PostValidation.Passed() {
		return StatusPostValidationFailed
	}
	return StatusSuccess
}

func (o *Orchestrator) validatePhase(ctx context.Context, spanName string, run func(context.Context) *validation.Report) *validation.Report {
	ctx, span := o.tracer.Start(ctx, spanName)
	defer span.End()

	report := run(ctx)
	span.SetAttributes(
		attribute.Bool("voxelops.passed", report.Passed()),
		attribute.Int("voxelops.error_count", len(report.Errors())),
		attribute.Int("voxelops.warning_count", len(report.Warnings())),
	)
	if !report.Passed() {
		span.SetStatus(codes.Error, "validation failed")
	}
	if o.metrics != nil {
		o.metrics.ObserveReport(report)
	}
	o.logger.Info(ctx, report.Summary())
	return report
}

// execute invokes the collaborator and normalizes every failure mode into an
// unsuccessful record. The returned record is never nil.
func (o *Orchestrator) execute(ctx context.Context, spec execution.Spec) (record *execution.Record, err error) {
	ctx, span := o.tracer.Start(ctx, "voxelops.execution")
	defer span.End()

	started := o.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			o.logger.Error(ctx, "executor panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			record = failedRecord(spec, started, o.now(), err)
		}
		if err != nil || !record.Success {
			span.SetStatus(codes.Error, record.Error)
		}
		span.SetAttributes(attribute.Int("voxelops.exit_code", record.ExitCode))
	}()

	if o.executor == nil {
		err = errors.New("no executor configured")
		return failedRecord(spec, started, o.now(), err), err
	}
	record, err = o.executor.Execute(ctx, spec)
	switch {
	case err != nil && record == nil:
		span.RecordError(err)
		return failedRecord(spec, started, o.now(), err), err
	case err != nil:
		span.RecordError(err)
		record.Success = false
		if record.Error == "" {
			record.Error = err.Error()
		}
		return record, err
	case record == nil:
		err = errors.New("executor returned no record")
		return failedRecord(spec, started, o.now(), err), err
	case !record.Success && record.Error == "":
		record.Error = fmt.Sprintf("%s failed with exit code %d", spec.Procedure, record.ExitCode)
	}
	return record, nil
}

func failedRecord(spec execution.Spec, start, end time.Time, err error) *execution.Record {
	return &execution.Record{
		Tool:            spec.Procedure,
		Participant:     spec.Participant,
		Command:         spec.Command,
		ExitCode:        -1,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		Success:         false,
		Error:           err.Error(),
	}
}

func (o *Orchestrator) openTrail(ctx context.Context, req Request, participant, session, runID string) *trail {
	t := &trail{
		runID:     runID,
		procedure: req.Procedure,
		logger:    o.logger,
		metrics:   o.metrics,
		progress:  o.progress,
	}
	logDir := o.logDir(req)
	l, err := audit.NewLogger(logDir, req.Procedure, participant, session, runID, audit.WithClock(o.now))
	if err != nil {
		o.logger.Warn(ctx, "audit sink unavailable", zap.String("log_dir", logDir), zap.Error(err))
		return t
	}
	t.log = l
	return t
}

// logDir resolves the audit directory: request, orchestrator default, the
// inputs' output_dir/logs, then ./logs.
func (o *Orchestrator) logDir(req Request) string {
	if req.LogDir != "" {
		return req.LogDir
	}
	if o.defaultLogDir != "" {
		return o.defaultLogDir
	}
	if out, ok := attrs.String(req.Inputs, "output_dir"); ok && out != "" {
		return filepath.Join(out, "logs")
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "logs")
	}
	return "logs"
}

// resolveSubject picks participant and session from the request or its
// inputs and checks that both are usable as path components.
func resolveSubject(req Request) (string, string, error) {
	participant := req.Participant
	if participant == "" {
		p, err := inputLabel(req.Inputs, "participant")
		if err != nil {
			return "", "", err
		}
		participant = p
	}
	session := req.Session
	if session == "" {
		s, err := inputLabel(req.Inputs, "session")
		if err != nil {
			return "", "", err
		}
		session = s
	}
	if err := sanitize.ValidateLabel(participant, "participant"); err != nil {
		return "", "", err
	}
	if err := sanitize.ValidateOptionalLabel(session, "session"); err != nil {
		return "", "", err
	}
	return participant, session, nil
}

// inputLabel reads a label attribute that must hold a string. YAML decodes
// an unquoted 01 as the integer 1, so numbers are rejected rather than
// converted with their leading zeros lost.
func inputLabel(inputs attrs.Attributes, field string) (string, error) {
	if inputs == nil {
		return "", nil
	}
	v, ok := inputs.Get(field)
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return "", fmt.Errorf("%w: %s %v is a number; quote it in the inputs file (e.g. %s: \"01\")",
			sanitize.ErrInvalidLabel, field, val, field)
	default:
		return "", fmt.Errorf("%w: %s must be a string, got %T", sanitize.ErrInvalidLabel, field, v)
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
