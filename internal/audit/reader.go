package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// maxLineSize bounds a single audit record when reading a sink back.
const maxLineSize = 16 * 1024 * 1024

// ErrChainBroken is wrapped by every ChainError.
var ErrChainBroken = errors.New("audit chain broken")

// ChainError locates the first record that fails verification.
type ChainError struct {
	Index  int
	Seq    int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at record %d (seq %d): %s", e.Index, e.Seq, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// TornRecord is a sink line that does not decode as an event, typically
// the remains of an append interrupted by a crash.
type TornRecord struct {
	Line   int    `json:"line"`
	Offset int64  `json:"offset"`
	Error  string `json:"error"`
}

// Sink is the decoded content of one sink file.
type Sink struct {
	Path   string
	Events []Event
	Torn   []TornRecord
}

// ReadSink decodes every record of a sink in file order. Lines that fail to
// decode as a hashed record are reported in Torn and do not stop the read. Numbers in event
// data are kept as json.Number so hashes recompute exactly.
func ReadSink(path string) (*Sink, error) {
	// #nosec G304 -- caller-selected audit sink.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	defer func() { _ = f.Close() }()

	sink := &Sink{Path: path}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var offset int64
	line := 0
	for scanner.Scan() {
		line++
		start := offset
		offset += int64(len(scanner.Bytes())) + 1

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			sink.Torn = append(sink.Torn, TornRecord{Line: line, Offset: start, Error: err.Error()})
			continue
		}
		if ev.Hash == "" {
			sink.Torn = append(sink.Torn, TornRecord{Line: line, Offset: start, Error: "record has no hash"})
			continue
		}
		sink.Events = append(sink.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit sink: %w", err)
	}
	return sink, nil
}

// ReadEvents returns the decodable events of a sink in file order, skipping
// torn records. Use ReadSink to see what was skipped.
func ReadEvents(path string) ([]Event, error) {
	sink, err := ReadSink(path)
	if err != nil {
		return nil, err
	}
	return sink.Events, nil
}

// FilterRun returns the events belonging to one run, in order.
func FilterRun(events []Event, runID string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// RunIDs returns the distinct run ids in order of first appearance.
func RunIDs(events []Event) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, ev := range events {
		if _, ok := seen[ev.RunID]; ok {
			continue
		}
		seen[ev.RunID] = struct{}{}
		ids = append(ids, ev.RunID)
	}
	return ids
}

// VerifyChain checks that events form an unbroken chain as read from one
// sink: sequence numbers count up from zero, each prev_hash matches the
// previous hash, and each hash matches the record's contents.
func VerifyChain(events []Event) error {
	var prevHash string
	for i, ev := range events {
		if ev.Seq != int64(i) {
			return &ChainError{Index: i, Seq: ev.Seq, Reason: fmt.Sprintf("expected seq %d", i)}
		}
		if ev.PrevHash != prevHash {
			return &ChainError{Index: i, Seq: ev.Seq, Reason: "prev_hash does not match previous record"}
		}
		want, err := ComputeHash(ev)
		if err != nil {
			return &ChainError{Index: i, Seq: ev.Seq, Reason: err.Error()}
		}
		if ev.Hash != want {
			return &ChainError{Index: i, Seq: ev.Seq, Reason: "hash does not match record contents"}
		}
		prevHash = ev.Hash
	}
	return nil
}
