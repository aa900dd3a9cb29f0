package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/logging"
)

// Logger appends the events of one run to its sink.
type Logger struct {
	procedure   string
	participant string
	session     string
	runID       string
	path        string
	now         func() time.Time

	mu     sync.Mutex
	events []Event
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a logger for one run. The sink is created lazily on the
// first event.
func NewLogger(logDir, procedure, participant, session, runID string, opts ...Option) (*Logger, error) {
	if logDir == "" {
		return nil, fmt.Errorf("audit log directory is empty")
	}
	if procedure == "" || participant == "" || runID == "" {
		return nil, fmt.Errorf("audit logger requires procedure, participant and run id")
	}
	l := &Logger{
		procedure:   procedure,
		participant: participant,
		session:     session,
		runID:       runID,
		path:        SinkPath(logDir, procedure, participant, session),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the sink file.
func (l *Logger) Path() string { return l.path }

// RunID returns the run identifier stamped on every event.
func (l *Logger) RunID() string { return l.runID }

// LogEvent appends one event and returns it as written, with its chain
// fields filled in. Events that fail to write are not kept in memory.
func (l *Logger) LogEvent(ctx context.Context, eventType EventType, data map[string]any) (Event, error) {
	if !eventType.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if data == nil {
		data = map[string]any{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev, err := appendChained(ctx, l.path, Event{
		EventType:   eventType,
		Procedure:   l.procedure,
		Participant: l.participant,
		Session:     optionalString(l.session),
		Timestamp:   l.now().UTC().Format(time.RFC3339Nano),
		Data:        data,
		RunID:       l.runID,
	})
	if err != nil {
		return Event{}, fmt.Errorf("audit %s: %w", eventType, err)
	}
	l.events = append(l.events, ev)

	logging.FromContext(ctx).Debug(ctx, "audit event written",
		zap.String("event_type", string(eventType)),
		zap.Int64("seq", ev.Seq),
		zap.String("sink", l.path),
	)
	return ev, nil
}

// Events returns a copy of the events this logger has written.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Summary describes what this logger has written.
type Summary struct {
	RunID       string  `json:"run_id"`
	Procedure   string  `json:"procedure"`
	Participant string  `json:"participant"`
	Session     *string `json:"session"`
	EventCount  int     `json:"event_count"`
	Events      []Event `json:"events"`
	LogFile     string  `json:"log_file"`
}

// Summary returns the run's events and sink location.
func (l *Logger) Summary() Summary {
	events := l.Events()
	return Summary{
		RunID:       l.runID,
		Procedure:   l.procedure,
		Participant: l.participant,
		Session:     optionalString(l.session),
		EventCount:  len(events),
		Events:      events,
		LogFile:     l.path,
	}
}
