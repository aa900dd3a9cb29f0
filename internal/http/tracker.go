package http

import (
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/orchestrator"
)

// defaultMaxRuns bounds the number of runs a Tracker remembers.
const defaultMaxRuns = 256

// RunStatus is the tracked state of one run.
type RunStatus struct {
	RunID      string          `json:"run_id"`
	Procedure  string          `json:"procedure"`
	LastEvent  audit.EventType `json:"last_event"`
	Message    string          `json:"message"`
	EventCount int             `json:"event_count"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Finished   bool            `json:"finished"`
	Status     string          `json:"status,omitempty"`
	Result     map[string]any  `json:"result,omitempty"`
}

// Tracker keeps the latest state of recent runs in memory.
type Tracker struct {
	mu      sync.RWMutex
	runs    map[string]*RunStatus
	maxRuns int
	now     func() time.Time
}

// NewTracker creates a Tracker remembering at most maxRuns runs. A
// non-positive maxRuns selects the default.
func NewTracker(maxRuns int) *Tracker {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	return &Tracker{
		runs:    make(map[string]*RunStatus),
		maxRuns: maxRuns,
		now:     time.Now,
	}
}

// Progress records a progress update. Its signature matches
// orchestrator.ProgressCallback.
func (t *Tracker) Progress(p orchestrator.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	run, ok := t.runs[p.RunID]
	if !ok {
		t.evictLocked()
		run = &RunStatus{RunID: p.RunID, Procedure: p.Procedure, StartedAt: now}
		t.runs[p.RunID] = run
	}
	run.LastEvent = p.Event
	run.Message = p.Message
	run.EventCount++
	run.UpdatedAt = now
	if p.Event == audit.EventProcedureComplete {
		run.Finished = true
	}
}

// Complete attaches the terminal result of a run.
func (t *Tracker) Complete(result *orchestrator.ProcedureResult) {
	if result == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[result.RunID]
	if !ok {
		t.evictLocked()
		run = &RunStatus{RunID: result.RunID, Procedure: result.Procedure, StartedAt: result.StartTime}
		t.runs[result.RunID] = run
	}
	run.Finished = true
	run.Status = string(result.Status)
	run.Result = result.FlatRecord()
	run.UpdatedAt = t.now()
}

// Get returns a copy of the tracked run.
func (t *Tracker) Get(runID string) (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *run, true
}

// List returns copies of all tracked runs, most recently started first.
func (t *Tracker) List() []RunStatus {
	t.mu.RLock()
	runs := make([]RunStatus, 0, len(t.runs))
	for _, run := range t.runs {
		runs = append(runs, *run)
	}
	t.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// evictLocked drops the oldest finished run, or the oldest run if none
// has finished, once the tracker is full.
func (t *Tracker) evictLocked() {
	if len(t.runs) < t.maxRuns {
		return
	}
	var victim *RunStatus
	for _, run := range t.runs {
		switch {
		case victim == nil:
			victim = run
		case run.Finished != victim.Finished:
			if run.Finished {
				victim = run
			}
		case run.StartedAt.Before(victim.StartedAt):
			victim = run
		}
	}
	if victim != nil {
		delete(t.runs, victim.RunID)
	}
}
