package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}
}

func newTestLogger(t *testing.T, dir, runID string) *Logger {
	t.Helper()
	l, err := NewLogger(dir, "qsiprep", "01", "baseline", runID, WithClock(fixedClock()))
	require.NoError(t, err)
	return l
}

func TestSinkPath(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "sub-01_ses-baseline_qsiprep.jsonl"),
		SinkPath("logs", "qsiprep", "01", "baseline"))
	assert.Equal(t, filepath.Join("logs", "sub-01_heudiconv.jsonl"),
		SinkPath("logs", "heudiconv", "01", ""))
}

func TestNewLogger_RequiresIdentity(t *testing.T) {
	_, err := NewLogger("", "qsiprep", "01", "", "run")
	assert.Error(t, err)
	_, err = NewLogger(t.TempDir(), "qsiprep", "", "", "run")
	assert.Error(t, err)
	_, err = NewLogger(t.TempDir(), "qsiprep", "01", "", "")
	assert.Error(t, err)
}

func TestLogEvent_WritesOneLinePerEvent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "logs")
	l := newTestLogger(t, dir, "run-1")

	_, err := l.LogEvent(ctx, EventProcedureStart, map[string]any{"inputs": map[string]any{"bids_dir": "/data/bids"}})
	require.NoError(t, err)
	_, err = l.LogEvent(ctx, EventPreValidation, map[string]any{"passed": true, "error_count": 0})
	require.NoError(t, err)

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	for _, key := range []string{"event_type", "procedure", "participant", "session", "timestamp", "data", "run_id"} {
		assert.Contains(t, first, key)
	}
	assert.Equal(t, "procedure_start", first["event_type"])
	assert.Equal(t, "baseline", first["session"])
	assert.Equal(t, "2026-03-01T12:00:01Z", first["timestamp"])

	events, err := ReadEvents(l.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(0), events[0].Seq)
	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.NoError(t, VerifyChain(events))
	assert.Len(t, l.Events(), 2)
}

func TestLogEvent_SessionAbsentIsNull(t *testing.T) {
	l, err := NewLogger(t.TempDir(), "heudiconv", "01", "", "run-1")
	require.NoError(t, err)
	_, err = l.LogEvent(context.Background(), EventProcedureStart, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"session":null`)
	assert.Contains(t, string(raw), `"data":{}`)
}

func TestLogEvent_UnknownType(t *testing.T) {
	l := newTestLogger(t, t.TempDir(), "run-1")
	_, err := l.LogEvent(context.Background(), EventType("procedure_paused"), nil)
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.NoFileExists(t, l.Path())
}

func TestLogEvent_RunsAccumulateInOneSink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newTestLogger(t, dir, "run-1")
	second := newTestLogger(t, dir, "run-2")
	require.Equal(t, first.Path(), second.Path())

	for _, l := range []*Logger{first, second} {
		_, err := l.LogEvent(ctx, EventProcedureStart, nil)
		require.NoError(t, err)
		_, err = l.LogEvent(ctx, EventProcedureComplete, map[string]any{"status": "success"})
		require.NoError(t, err)
	}

	events, err := ReadEvents(first.Path())
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.NoError(t, VerifyChain(events))

	assert.Equal(t, []string{"run-1", "run-2"}, RunIDs(events))
	run2 := FilterRun(events, "run-2")
	require.Len(t, run2, 2)
	assert.Equal(t, int64(2), run2[0].Seq)
	assert.Equal(t, EventProcedureComplete, run2[1].EventType)
	assert.Len(t, second.Events(), 2)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, t.TempDir(), "run-1")
	for _, et := range []EventType{EventProcedureStart, EventPreValidation, EventProcedureComplete} {
		_, err := l.LogEvent(ctx, et, map[string]any{"status": "pre_validation_failed"})
		require.NoError(t, err)
	}
	events, err := ReadEvents(l.Path())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]Event) []Event
		index  int
	}{
		{
			name: "edited data",
			mutate: func(evs []Event) []Event {
				evs[1].Data = map[string]any{"status": "success"}
				return evs
			},
			index: 1,
		},
		{
			name: "dropped record",
			mutate: func(evs []Event) []Event {
				return append(evs[:1], evs[2:]...)
			},
			index: 1,
		},
		{
			name: "reordered records",
			mutate: func(evs []Event) []Event {
				evs[0], evs[1] = evs[1], evs[0]
				return evs
			},
			index: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			copied := append([]Event(nil), events...)
			err := VerifyChain(tt.mutate(copied))
			require.ErrorIs(t, err, ErrChainBroken)
			var chainErr *ChainError
			require.True(t, errors.As(err, &chainErr))
			assert.Equal(t, tt.index, chainErr.Index)
		})
	}
}

func TestLogEvent_UnwritableSink(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "logs")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))

	l := newTestLogger(t, blocker, "run-1")
	_, err := l.LogEvent(context.Background(), EventProcedureStart, nil)
	assert.Error(t, err)
	assert.Empty(t, l.Events())
}

// appendRaw simulates a writer that crashed partway through an append.
func appendRaw(t *testing.T, path, fragment string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(fragment)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLogEvent_ChainsPastTornAppend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newTestLogger(t, dir, "run-1")
	for _, et := range []EventType{EventProcedureStart, EventProcedureComplete} {
		_, err := first.LogEvent(ctx, et, nil)
		require.NoError(t, err)
	}
	appendRaw(t, first.Path(), `{"event_type":"procedure_st`)

	second := newTestLogger(t, dir, "run-2")
	ev, err := second.LogEvent(ctx, EventProcedureStart, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Seq)
	_, err = second.LogEvent(ctx, EventProcedureComplete, nil)
	require.NoError(t, err)

	sink, err := ReadSink(first.Path())
	require.NoError(t, err)
	require.Len(t, sink.Events, 4)
	require.Len(t, sink.Torn, 1)
	assert.Equal(t, 3, sink.Torn[0].Line)
	assert.Positive(t, sink.Torn[0].Offset)
	assert.NotEmpty(t, sink.Torn[0].Error)
	assert.NoError(t, VerifyChain(sink.Events))
	assert.Equal(t, []string{"run-1", "run-2"}, RunIDs(sink.Events))

	events, err := ReadEvents(first.Path())
	require.NoError(t, err)
	assert.Equal(t, sink.Events, events)
}

func TestLogEvent_TerminatedGarbageTail(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, t.TempDir(), "run-1")
	_, err := l.LogEvent(ctx, EventProcedureStart, nil)
	require.NoError(t, err)
	appendRaw(t, l.Path(), "{\"event_type\":\n\n{\"no_hash\":true}\n")

	ev, err := l.LogEvent(ctx, EventPreValidation, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)

	sink, err := ReadSink(l.Path())
	require.NoError(t, err)
	require.Len(t, sink.Events, 2)
	require.Len(t, sink.Torn, 2)
	assert.Equal(t, 2, sink.Torn[0].Line)
	assert.Equal(t, 4, sink.Torn[1].Line)
	assert.Equal(t, "record has no hash", sink.Torn[1].Error)
	assert.NoError(t, VerifyChain(sink.Events))
}

func TestLogEvent_OnlyTornContent(t *testing.T) {
	l := newTestLogger(t, t.TempDir(), "run-1")
	require.NoError(t, os.WriteFile(l.Path(), []byte(`{"event_type":`), 0o600))

	ev, err := l.LogEvent(context.Background(), EventProcedureStart, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ev.Seq)
	assert.Empty(t, ev.PrevHash)

	sink, err := ReadSink(l.Path())
	require.NoError(t, err)
	require.Len(t, sink.Events, 1)
	require.Len(t, sink.Torn, 1)
	assert.Equal(t, int64(0), sink.Torn[0].Offset)
	assert.NoError(t, VerifyChain(sink.Events))
}

func TestReadSink_Missing(t *testing.T) {
	_, err := ReadSink(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogEvent_LongTailLine(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t, t.TempDir(), "run-1")
	big := strings.Repeat("x", 3*tailChunkSize)
	_, err := l.LogEvent(ctx, EventProcedureStart, map[string]any{"inputs": big})
	require.NoError(t, err)
	ev, err := l.LogEvent(ctx, EventPreValidation, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)

	events, err := ReadEvents(l.Path())
	require.NoError(t, err)
	assert.NoError(t, VerifyChain(events))
}

func TestLogEvent_StaleLockRecovered(t *testing.T) {
	l := newTestLogger(t, t.TempDir(), "run-1")
	lockPath := l.Path() + ".lock"
	require.NoError(t, os.WriteFile(lockPath, nil, 0o600))
	old := time.Now().Add(-2 * lockStaleAfter)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	_, err := l.LogEvent(context.Background(), EventProcedureStart, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, lockPath)
}

func TestLogEvent_HeldLockHonorsContext(t *testing.T) {
	l := newTestLogger(t, t.TempDir(), "run-1")
	lockPath := l.Path() + ".lock"
	require.NoError(t, os.WriteFile(lockPath, nil, 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.LogEvent(ctx, EventProcedureStart, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.FileExists(t, lockPath)
}

func TestLogEvent_ConcurrentSameKeyWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		l := newTestLogger(t, dir, fmt.Sprintf("run-%d", w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := l.LogEvent(ctx, EventPreValidation, map[string]any{"i": i})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events, err := ReadEvents(SinkPath(dir, "qsiprep", "01", "baseline"))
	require.NoError(t, err)
	assert.Len(t, events, writers*perWriter)
	assert.NoError(t, VerifyChain(events))
	assert.Len(t, RunIDs(events), writers)
}

func TestSummary(t *testing.T) {
	l := newTestLogger(t, t.TempDir(), "run-1")
	_, err := l.LogEvent(context.Background(), EventProcedureStart, nil)
	require.NoError(t, err)

	s := l.Summary()
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, "qsiprep", s.Procedure)
	assert.Equal(t, "01", s.Participant)
	require.NotNil(t, s.Session)
	assert.Equal(t, "baseline", *s.Session)
	assert.Equal(t, 1, s.EventCount)
	assert.Equal(t, l.Path(), s.LogFile)
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range EventTypes {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, EventType("pre_validation_failed").Valid())
}
