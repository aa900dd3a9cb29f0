package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// EventType names a transition of the orchestrator state machine.
type EventType string

const (
	EventProcedureStart    EventType = "procedure_start"
	EventPreValidation     EventType = "pre_validation"
	EventExecutionStart    EventType = "execution_start"
	EventExecutionSuccess  EventType = "execution_success"
	EventExecutionFailed   EventType = "execution_failed"
	EventPostValidation    EventType = "post_validation"
	EventProcedureComplete EventType = "procedure_complete"
)

// EventTypes lists every event type in state machine order.
var EventTypes = []EventType{
	EventProcedureStart,
	EventPreValidation,
	EventExecutionStart,
	EventExecutionSuccess,
	EventExecutionFailed,
	EventPostValidation,
	EventProcedureComplete,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ErrUnknownEventType is returned when logging an event type outside EventTypes.
var ErrUnknownEventType = errors.New("unknown audit event type")

// Event is one audit record. Field order matches the on-disk layout.
type Event struct {
	EventType   EventType      `json:"event_type"`
	Procedure   string         `json:"procedure"`
	Participant string         `json:"participant"`
	Session     *string        `json:"session"`
	Timestamp   string         `json:"timestamp"`
	Data        map[string]any `json:"data"`
	RunID       string         `json:"run_id"`
	Seq         int64          `json:"seq"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash,omitempty"`
}

// SessionLabel returns the session or "" when absent.
func (e Event) SessionLabel() string {
	if e.Session == nil {
		return ""
	}
	return *e.Session
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// ComputeHash returns the sha256 hex digest of the JCS canonical form of e
// with the hash field cleared.
func ComputeHash(e Event) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
