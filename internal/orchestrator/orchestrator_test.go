package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/metrics"
	"github.com/fyrsmithlabs/voxelops/internal/rules"
	"github.com/fyrsmithlabs/voxelops/internal/sanitize"
	"github.com/fyrsmithlabs/voxelops/internal/telemetry"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testProcedure = "qsiprep"

// MockExecutor is a mock implementation of execution.Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, spec execution.Spec) (*execution.Record, error) {
	args := m.Called(ctx, spec)
	rec, _ := args.Get(0).(*execution.Record)
	return rec, args.Error(1)
}

// countingRule passes and records how often it ran.
type countingRule struct {
	name  string
	phase validation.Phase
	calls atomic.Int32
}

func (r *countingRule) Name() string                  { return r.name }
func (r *countingRule) Description() string           { return "counts invocations" }
func (r *countingRule) Severity() validation.Severity { return validation.SeverityError }
func (r *countingRule) Phase() validation.Phase       { return r.phase }

func (r *countingRule) Check(context.Context, validation.Context) (validation.Result, error) {
	r.calls.Add(1)
	return validation.Result{Passed: true, Message: "counted"}, nil
}

type fixture struct {
	root    string
	bidsDir string
	outDir  string
	logDir  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		root:    root,
		bidsDir: filepath.Join(root, "bids"),
		outDir:  filepath.Join(root, "derivatives", "qsiprep"),
		logDir:  filepath.Join(root, "logs"),
	}
	dwi := filepath.Join(f.bidsDir, "sub-01", "dwi")
	require.NoError(t, os.MkdirAll(dwi, 0o755))
	for _, name := range []string{"sub-01_run-1_dwi.nii.gz", "sub-01_run-2_dwi.nii.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(dwi, name), []byte("nifti"), 0o600))
	}
	require.NoError(t, os.MkdirAll(f.outDir, 0o755))
	return f
}

func (f fixture) inputs() attrs.Map {
	return attrs.Map{
		"bids_dir":    f.bidsDir,
		"participant": "01",
		"output_dir":  filepath.Dir(f.outDir),
	}
}

func testValidator(t *testing.T, extraPost ...validation.Rule) *validation.Validator {
	t.Helper()
	post := append([]validation.Rule{
		rules.OutputDirectoryExists("qsiprep_dir", "QSIPrep output directory"),
	}, extraPost...)
	v, err := validation.NewValidator(testProcedure,
		[]validation.Rule{
			rules.DirectoryExists("bids_dir", "BIDS directory"),
			rules.GlobFilesExist(rules.GlobSpec{
				BaseAttr:         "bids_dir",
				Pattern:          "**/dwi/*_dwi.nii.gz",
				Label:            "DWI files",
				ParticipantLevel: true,
			}),
		},
		post,
	)
	require.NoError(t, err)
	return v
}

func testRegistry(t *testing.T, validators ...*validation.Validator) *validation.Registry {
	t.Helper()
	reg, err := validation.NewRegistry(validators...)
	require.NoError(t, err)
	return reg
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts = ts.Add(time.Second)
		return ts
	}
}

func successRecord(outDir string) *execution.Record {
	return &execution.Record{
		Tool:            testProcedure,
		Participant:     "01",
		ExitCode:        0,
		DurationSeconds: 42,
		Success:         true,
		ExpectedOutputs: attrs.Map{"qsiprep_dir": outDir},
	}
}

func eventTypes(events []audit.Event) []audit.EventType {
	out := make([]audit.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

func readRun(t *testing.T, res *ProcedureResult) []audit.Event {
	t.Helper()
	require.NotEmpty(t, res.AuditLogFile)
	events, err := audit.ReadEvents(res.AuditLogFile)
	require.NoError(t, err)
	require.NoError(t, audit.VerifyChain(events))
	return audit.FilterRun(events, res.RunID)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(spec execution.Spec) bool {
		return spec.Procedure == testProcedure && spec.Participant == "01"
	})).Return(successRecord(f.outDir), nil).Once()

	logger := logging.NewTestLogger()
	orch := New(testRegistry(t, testValidator(t)), exec,
		WithLogger(logger.Logger),
		WithClock(steppingClock()),
		WithRunIDGenerator(func() string { return "run-success" }),
	)

	res, err := orch.Run(context.Background(), Request{
		Procedure: testProcedure,
		Inputs:    f.inputs(),
		LogDir:    f.logDir,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.Success())
	assert.Empty(t, res.FailureReason())
	assert.Equal(t, "run-success", res.RunID)
	assert.Equal(t, "01", res.Participant)
	assert.True(t, res.PreValidation.Passed())
	assert.Empty(t, res.PreValidation.Errors())
	require.NotNil(t, res.PostValidation)
	assert.True(t, res.PostValidation.Passed())
	assert.Positive(t, res.Duration)
	assert.Equal(t, res.EndTime.Sub(res.StartTime), res.Duration)
	assert.Equal(t, audit.SinkPath(f.logDir, testProcedure, "01", ""), res.AuditLogFile)

	events := readRun(t, res)
	assert.Equal(t, []audit.EventType{
		audit.EventProcedureStart,
		audit.EventPreValidation,
		audit.EventExecutionStart,
		audit.EventExecutionSuccess,
		audit.EventPostValidation,
		audit.EventProcedureComplete,
	}, eventTypes(events))
	for _, ev := range events {
		assert.Equal(t, "run-success", ev.RunID)
	}
	assert.Equal(t, "success", events[5].Data["status"])

	exec.AssertExpectations(t)
	logger.AssertRunCorrelation(t, "procedure succeeded", "run-success")
	logger.AssertNotLogged(t, zapcore.WarnLevel, "audit event not written")
}

func TestRun_PreValidationFailed(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.root, "nonexistent")
	v, err := validation.NewValidator(testProcedure,
		[]validation.Rule{rules.DirectoryExists("bids_dir", "BIDS directory")},
		nil,
	)
	require.NoError(t, err)
	exec := new(MockExecutor)

	orch := New(testRegistry(t, v), exec)
	res, err := orch.Run(context.Background(), Request{
		Procedure:   testProcedure,
		Participant: "01",
		Inputs:      attrs.Map{"bids_dir": missing},
		LogDir:      f.logDir,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPreValidationFailed, res.Status)
	assert.False(t, res.Success())
	assert.False(t, res.PreValidation.Passed())
	require.Len(t, res.PreValidation.Errors(), 1)
	assert.Contains(t, res.PreValidation.Errors()[0].Message, missing)
	assert.Equal(t, res.PreValidation.Errors()[0].Message, res.FailureReason())
	assert.Nil(t, res.Execution)
	assert.Nil(t, res.PostValidation)

	events := readRun(t, res)
	assert.Equal(t, []audit.EventType{
		audit.EventProcedureStart,
		audit.EventPreValidation,
		audit.EventProcedureComplete,
	}, eventTypes(events))
	assert.Equal(t, "pre_validation_failed", events[2].Data["status"])

	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRun_ExecutionFailed(t *testing.T) {
	f := newFixture(t)
	post := &countingRule{name: "post_counter", phase: validation.PhasePost}
	failure := &execution.Record{
		Tool:     testProcedure,
		ExitCode: 1,
		Success:  false,
		Error:    "qsiprep failed with exit code 1\n\nStderr (last 1000 chars):\nout of memory",
	}

	tests := []struct {
		name       string
		record     *execution.Record
		err        error
		wantReason string
		wantExit   int
	}{
		{name: "unsuccessful record", record: failure, wantReason: failure.Error, wantExit: 1},
		{name: "executor error", err: errors.New("docker: image not found"), wantReason: "docker: image not found", wantExit: -1},
		{name: "record without message", record: &execution.Record{ExitCode: 2}, wantReason: "qsiprep failed with exit code 2", wantExit: 2},
		{name: "no record", wantReason: "executor returned no record", wantExit: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := new(MockExecutor)
			exec.On("Execute", mock.Anything, mock.Anything).Return(tt.record, tt.err).Once()

			orch := New(testRegistry(t, testValidator(t, post)), exec)
			res, err := orch.Run(context.Background(), Request{
				Procedure: testProcedure,
				Inputs:    f.inputs(),
				LogDir:    t.TempDir(),
			})
			require.NoError(t, err)

			assert.Equal(t, StatusExecutionFailed, res.Status)
			assert.Equal(t, tt.wantReason, res.FailureReason())
			require.NotNil(t, res.Execution)
			assert.False(t, res.Execution.Success)
			assert.Equal(t, tt.wantExit, res.Execution.ExitCode)
			assert.Nil(t, res.PostValidation)

			events := readRun(t, res)
			assert.Equal(t, []audit.EventType{
				audit.EventProcedureStart,
				audit.EventPreValidation,
				audit.EventExecutionStart,
				audit.EventExecutionFailed,
				audit.EventProcedureComplete,
			}, eventTypes(events))
			assert.Equal(t, tt.wantReason, events[3].Data["error"])
		})
	}
	assert.Zero(t, post.calls.Load(), "post-validation must never run after a failed execution")
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, execution.Spec) (*execution.Record, error) {
	panic("container runtime crashed")
}

func TestRun_ExecutorPanicIsExecutionFailure(t *testing.T) {
	f := newFixture(t)
	logger := logging.NewTestLogger()
	orch := New(testRegistry(t, testValidator(t)), panickingExecutor{}, WithLogger(logger.Logger))

	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)
	assert.Equal(t, StatusExecutionFailed, res.Status)
	assert.Contains(t, res.FailureReason(), "container runtime crashed")
	logger.AssertLogged(t, zapcore.ErrorLevel, "executor panicked")
}

func TestRun_PostValidationFailed(t *testing.T) {
	f := newFixture(t)
	missingOut := filepath.Join(f.root, "never-written")
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(missingOut), nil).Once()

	orch := New(testRegistry(t, testValidator(t)), exec)
	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)

	assert.Equal(t, StatusPostValidationFailed, res.Status)
	require.NotNil(t, res.PostValidation)
	assert.False(t, res.PostValidation.Passed())
	assert.Contains(t, res.FailureReason(), missingOut)
	assert.True(t, res.Execution.Success)

	events := readRun(t, res)
	require.Len(t, events, 6)
	assert.Equal(t, audit.EventPostValidation, events[4].EventType)
	assert.Equal(t, false, events[4].Data["passed"])
	assert.Equal(t, "post_validation_failed", events[5].Data["status"])
}

func TestRun_ExpectedOutputsFallBackToRequest(t *testing.T) {
	f := newFixture(t)
	record := successRecord(f.outDir)
	record.ExpectedOutputs = nil
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(record, nil).Once()

	orch := New(testRegistry(t, testValidator(t)), exec)
	res, err := orch.Run(context.Background(), Request{
		Procedure:       testProcedure,
		Inputs:          f.inputs(),
		ExpectedOutputs: attrs.Map{"qsiprep_dir": f.outDir},
		LogDir:          f.logDir,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown procedure",
			req:     Request{Procedure: "fmriprep", Inputs: f.inputs(), LogDir: f.logDir},
			wantErr: validation.ErrUnknownProcedure,
		},
		{
			name:    "missing participant",
			req:     Request{Procedure: testProcedure, Inputs: attrs.Map{"bids_dir": f.bidsDir}, LogDir: f.logDir},
			wantErr: sanitize.ErrInvalidLabel,
		},
		{
			name:    "participant with path characters",
			req:     Request{Procedure: testProcedure, Participant: "../01", Inputs: f.inputs(), LogDir: f.logDir},
			wantErr: sanitize.ErrInvalidLabel,
		},
		{
			name:    "session with separator",
			req:     Request{Procedure: testProcedure, Session: "a/b", Inputs: f.inputs(), LogDir: f.logDir},
			wantErr: sanitize.ErrInvalidLabel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := new(MockExecutor)
			orch := New(testRegistry(t, testValidator(t)), exec)

			res, err := orch.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			var cfgErr *validation.ConfigError
			assert.True(t, errors.As(err, &cfgErr))

			assert.NoDirExists(t, f.logDir, "no audit event may be written for a configuration error")
			exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_NumericLabelsRejected(t *testing.T) {
	f := newFixture(t)
	inputsFile := filepath.Join(f.root, "inputs.yaml")
	require.NoError(t, os.WriteFile(inputsFile, []byte("bids_dir: "+f.bidsDir+"\nparticipant: 01\n"), 0o600))
	fromYAML, err := attrs.Load(inputsFile)
	require.NoError(t, err)

	tests := []struct {
		name    string
		inputs  attrs.Map
		wantMsg string
	}{
		{"unquoted yaml participant", fromYAML, "quote it"},
		{"int participant", attrs.Map{"bids_dir": f.bidsDir, "participant": 1}, "quote it"},
		{"float session", attrs.Map{"bids_dir": f.bidsDir, "participant": "01", "session": 2.0}, "quote it"},
		{"list participant", attrs.Map{"bids_dir": f.bidsDir, "participant": []any{"01"}}, "must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := new(MockExecutor)
			orch := New(testRegistry(t, testValidator(t)), exec)

			res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: tt.inputs, LogDir: f.logDir})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, sanitize.ErrInvalidLabel)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NoDirExists(t, f.logDir)
			exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_SubjectFromInputs(t *testing.T) {
	f := newFixture(t)
	sesDWI := filepath.Join(f.bidsDir, "sub-01", "ses-baseline", "dwi")
	require.NoError(t, os.MkdirAll(sesDWI, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sesDWI, "sub-01_ses-baseline_dwi.nii.gz"), nil, 0o600))

	inputs := f.inputs()
	inputs["session"] = "baseline"
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(spec execution.Spec) bool {
		return spec.Session == "baseline"
	})).Return(successRecord(f.outDir), nil).Once()

	orch := New(testRegistry(t, testValidator(t)), exec)
	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: inputs, LogDir: f.logDir})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "baseline", res.Session)
	assert.Equal(t, audit.SinkPath(f.logDir, testProcedure, "01", "baseline"), res.AuditLogFile)
	exec.AssertExpectations(t)
}

func TestRun_DefaultLogDir(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil)

	t.Run("output_dir of inputs", func(t *testing.T) {
		orch := New(testRegistry(t, testValidator(t)), exec)
		res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs()})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(f.outDir), "logs"), filepath.Dir(res.AuditLogFile))
	})

	t.Run("orchestrator default wins over inputs", func(t *testing.T) {
		dir := t.TempDir()
		orch := New(testRegistry(t, testValidator(t)), exec, WithDefaultLogDir(dir))
		res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs()})
		require.NoError(t, err)
		assert.Equal(t, dir, filepath.Dir(res.AuditLogFile))
	})
}

func TestRun_AuditFailureDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	blocked := filepath.Join(f.root, "logs-file")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o600))

	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil).Once()

	m := metrics.NewMetrics()
	failures := m.AuditWriteFailures.WithLabelValues(testProcedure)
	before := testutil.ToFloat64(failures)

	logger := logging.NewTestLogger()
	orch := New(testRegistry(t, testValidator(t)), exec, WithLogger(logger.Logger), WithMetrics(m))
	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: blocked})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.AuditLogFile)
	logger.AssertLogged(t, zapcore.WarnLevel, "audit event not written")
	assert.Len(t, logger.FilterMessage("audit event not written").All(), 6)
	assert.Equal(t, before+6, testutil.ToFloat64(failures))
}

func TestRun_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil).Once()

	m := metrics.NewMetrics()
	runs := m.RunsTotal.WithLabelValues(testProcedure, string(StatusSuccess))
	checks := m.RuleChecksTotal.WithLabelValues(testProcedure, "pre", "bids_dir_exists", metrics.OutcomePassed)
	beforeRuns, beforeChecks := testutil.ToFloat64(runs), testutil.ToFloat64(checks)

	orch := New(testRegistry(t, testValidator(t)), exec, WithMetrics(m))
	_, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)

	assert.Equal(t, beforeRuns+1, testutil.ToFloat64(runs))
	assert.Equal(t, beforeChecks+1, testutil.ToFloat64(checks))
}

func TestRun_Spans(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil).Once()

	tel := telemetry.NewTestTelemetry()
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	orch := New(testRegistry(t, testValidator(t)), exec, WithTracer(tel.Tracer("orchestrator-test")))
	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)

	for _, name := range []string{"voxelops.procedure", "voxelops.pre_validation", "voxelops.execution", "voxelops.post_validation"} {
		tel.AssertSpanExists(t, name)
	}
	tel.AssertSpanAttribute(t, "voxelops.procedure", "voxelops.run_id", res.RunID)
	tel.AssertSpanAttribute(t, "voxelops.procedure", "voxelops.status", "success")
}

func TestRun_ProgressFollowsAuditOrder(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil).Once()

	var got []Progress
	orch := New(testRegistry(t, testValidator(t)), exec, WithProgress(func(p Progress) { got = append(got, p) }))
	res, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)

	require.Len(t, got, 6)
	assert.Equal(t, audit.EventProcedureStart, got[0].Event)
	assert.Equal(t, "pre-validation passed", got[1].Message)
	assert.Equal(t, "procedure complete: success", got[5].Message)
	for _, p := range got {
		assert.Equal(t, res.RunID, p.RunID)
	}
}

func TestRun_RepeatedRunsAccumulate(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil)

	orch := New(testRegistry(t, testValidator(t)), exec)
	first, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)

	require.Equal(t, first.AuditLogFile, second.AuditLogFile)
	assert.NotEqual(t, first.RunID, second.RunID)

	events, err := audit.ReadEvents(first.AuditLogFile)
	require.NoError(t, err)
	assert.Len(t, events, 12)
	assert.NoError(t, audit.VerifyChain(events))
	assert.Equal(t, []string{first.RunID, second.RunID}, audit.RunIDs(events))
}

func TestRun_ContinuesAfterTornAppend(t *testing.T) {
	f := newFixture(t)
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).Return(successRecord(f.outDir), nil)

	orch := New(testRegistry(t, testValidator(t)), exec)
	first, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)
	require.NotEmpty(t, first.AuditLogFile)

	sinkFile, err := os.OpenFile(first.AuditLogFile, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = sinkFile.WriteString(`{"event_type":"procedure_start","run_id":"`)
	require.NoError(t, err)
	require.NoError(t, sinkFile.Close())

	second, err := orch.Run(context.Background(), Request{Procedure: testProcedure, Inputs: f.inputs(), LogDir: f.logDir})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, second.Status)
	assert.Equal(t, first.AuditLogFile, second.AuditLogFile)

	sink, err := audit.ReadSink(second.AuditLogFile)
	require.NoError(t, err)
	require.Len(t, sink.Torn, 1)
	assert.Equal(t, 7, sink.Torn[0].Line)
	assert.NoError(t, audit.VerifyChain(sink.Events))
	assert.Len(t, audit.FilterRun(sink.Events, first.RunID), 6)
	assert.Len(t, audit.FilterRun(sink.Events, second.RunID), 6)
}

func TestRun_ConcurrentDistinctParticipants(t *testing.T) {
	root := t.TempDir()
	logDir := filepath.Join(root, "logs")
	outDir := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	participants := []string{"01", "02", "03", "04"}
	for _, p := range participants {
		dwi := filepath.Join(root, "bids", "sub-"+p, "dwi")
		require.NoError(t, os.MkdirAll(dwi, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dwi, fmt.Sprintf("sub-%s_dwi.nii.gz", p)), nil, 0o600))
	}

	exec := execution.ExecutorFunc(func(_ context.Context, spec execution.Spec) (*execution.Record, error) {
		return &execution.Record{
			Tool:            spec.Procedure,
			Participant:     spec.Participant,
			Success:         true,
			ExpectedOutputs: attrs.Map{"qsiprep_dir": outDir},
		}, nil
	})
	orch := New(testRegistry(t, testValidator(t)), exec)

	results := make([]*ProcedureResult, len(participants))
	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := orch.Run(context.Background(), Request{
				Procedure:   testProcedure,
				Participant: p,
				Inputs:      attrs.Map{"bids_dir": filepath.Join(root, "bids")},
				LogDir:      logDir,
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, StatusSuccess, res.Status, participants[i])
		assert.Len(t, readRun(t, res), 6)
	}
}
