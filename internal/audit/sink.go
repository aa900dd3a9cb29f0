package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	lockTimeout    = 30 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = 2 * time.Minute
	tailChunkSize  = 4096
	sinkFileMode   = 0o640
	sinkDirMode    = 0o750
)

// ErrLockTimeout is returned when the sink lock cannot be acquired.
var ErrLockTimeout = errors.New("audit sink lock timeout")

// SinkPath returns the sink file for a (procedure, participant, session) key:
// <logDir>/sub-<participant>[_ses-<session>]_<procedure>.jsonl.
func SinkPath(logDir, procedure, participant, session string) string {
	name := "sub-" + participant
	if session != "" {
		name += "_ses-" + session
	}
	name += "_" + procedure + ".jsonl"
	return filepath.Join(logDir, name)
}

// appendChained links ev to the last record in the sink, hashes it and
// appends it as one line. The read of the tail and the write happen under
// the same lock so same-host writers cannot fork the chain.
func appendChained(ctx context.Context, path string, ev Event) (Event, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, sinkDirMode); err != nil {
		return Event{}, fmt.Errorf("create audit directory: %w", err)
	}

	err := withSinkLock(ctx, path, func() error {
		// #nosec G304 -- sink path is derived from validated labels.
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, sinkFileMode)
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		defer func() { _ = f.Close() }()

		tail, err := readTail(f)
		if err != nil {
			return err
		}
		if tail.found {
			ev.Seq = tail.last.Seq + 1
			ev.PrevHash = tail.last.Hash
		}
		if ev.Hash, err = ComputeHash(ev); err != nil {
			return err
		}

		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		line = append(line, '\n')
		if tail.unterminated {
			// Close off the fragment a crashed writer left behind so this
			// record starts on its own line.
			line = append([]byte{'\n'}, line...)
		}
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync audit sink: %w", err)
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}

	syncDirectory(dir)
	return ev, nil
}

// sinkTail describes the end of a sink as seen by the next writer.
type sinkTail struct {
	last  Event
	found bool
	// unterminated is set when the file does not end in a newline, which
	// only happens after a torn append.
	unterminated bool
}

// readTail finds the last decodable record of f, reading backwards in
// chunks. Lines that do not decode, such as a torn final append, are
// skipped so the chain continues from the last record that was fully
// written.
func readTail(f *os.File) (sinkTail, error) {
	var tail sinkTail
	info, err := f.Stat()
	if err != nil {
		return tail, fmt.Errorf("stat audit sink: %w", err)
	}
	end := info.Size()
	if end == 0 {
		return tail, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, end-1); err != nil && !errors.Is(err, io.EOF) {
		return tail, fmt.Errorf("read audit sink: %w", err)
	}
	tail.unterminated = last[0] != '\n'

	// carry holds the bytes after the last newline not yet consumed; its
	// start is unknown until an earlier newline or the file start is seen.
	var carry []byte
	for off := end; off > 0; {
		n := int64(tailChunkSize)
		if off < n {
			n = off
		}
		off -= n
		chunk := make([]byte, n, n+int64(len(carry)))
		if _, err := f.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return tail, fmt.Errorf("read audit sink: %w", err)
		}
		buf := append(chunk, carry...)
		for {
			i := bytes.LastIndexByte(buf, '\n')
			if i < 0 {
				break
			}
			if ev, ok := decodeRecord(buf[i+1:]); ok {
				tail.last, tail.found = ev, true
				return tail, nil
			}
			buf = buf[:i]
		}
		carry = buf
	}
	if ev, ok := decodeRecord(carry); ok {
		tail.last, tail.found = ev, true
	}
	return tail, nil
}

// decodeRecord decodes one sink line. Blank lines, fragments and JSON that
// is not a hashed record all report false.
func decodeRecord(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil || ev.Hash == "" {
		return Event{}, false
	}
	return ev, true
}

func withSinkLock(ctx context.Context, path string, fn func() error) error {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockTimeout)
	for {
		// #nosec G304 -- lock path is derived from the sink path.
		lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lock.Close()
			defer func() { _ = os.Remove(lockPath) }()
			return fn()
		}
		if !isLockContention(err, lockPath) {
			return fmt.Errorf("acquire audit lock: %w", err)
		}
		if lockIsStale(lockPath, time.Now()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire audit lock: %w", ctx.Err())
		case <-time.After(lockRetry):
		}
	}
}

func isLockContention(err error, lockPath string) bool {
	if os.IsExist(err) {
		return true
	}
	if !os.IsPermission(err) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}

func lockIsStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > lockStaleAfter
}

// syncDirectory makes the sink's directory entry durable. Best effort.
func syncDirectory(dir string) {
	// #nosec G304 -- dir is the parent of the sink path.
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
