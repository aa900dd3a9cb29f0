package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

func TestNewMetrics_Singleton(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()
	require.NotNil(t, m1)
	assert.Same(t, m1, m2)
}

func TestRecordRun(t *testing.T) {
	m := NewMetrics()
	counter := m.RunsTotal.WithLabelValues("metrics_test_run", "success")
	before := testutil.ToFloat64(counter)

	m.RecordRun("metrics_test_run", "success", 12.5)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(m.RunDuration), 1)
}

func TestObserveReport(t *testing.T) {
	m := NewMetrics()
	report := &validation.Report{
		Phase:     validation.PhasePre,
		Procedure: "metrics_test_report",
		Results: []validation.Result{
			{RuleName: "bids_dir_exists", Passed: true, Severity: validation.SeverityError},
			{RuleName: "dwi_files_exist", Passed: false, Severity: validation.SeverityError},
			{RuleName: "t1w_files_exist", Passed: false, Severity: validation.SeverityWarning},
		},
	}

	m.ObserveReport(report)
	m.ObserveReport(nil)

	get := func(rule, outcome string) float64 {
		return testutil.ToFloat64(m.RuleChecksTotal.WithLabelValues("metrics_test_report", "pre", rule, outcome))
	}
	assert.Equal(t, 1.0, get("bids_dir_exists", OutcomePassed))
	assert.Equal(t, 1.0, get("dwi_files_exist", OutcomeError))
	assert.Equal(t, 1.0, get("t1w_files_exist", OutcomeWarning))
}

func TestRecordAuditFailure(t *testing.T) {
	m := NewMetrics()
	counter := m.AuditWriteFailures.WithLabelValues("metrics_test_audit")
	before := testutil.ToFloat64(counter)
	m.RecordAuditFailure("metrics_test_audit")
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
