package uevent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const snapshotVersion = 1

// ErrCorruptSnapshot is returned when a snapshot's header and body disagree.
var ErrCorruptSnapshot = errors.New("corrupt queue snapshot")

// Queue is the ordered list of events collected during regeneration. It has a
// single owner while being filled and is read-only once snapshotted.
type Queue struct {
	events []Event
}

// NewQueue returns a queue holding the given events in order.
func NewQueue(events ...Event) *Queue {
	return &Queue{events: append([]Event(nil), events...)}
}

// Append adds an event at the end of the queue.
func (q *Queue) Append(e Event) {
	q.events = append(q.events, e)
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.events)
}

// At returns the event at position i.
func (q *Queue) At(i int) Event {
	return q.events[i]
}

// DuplicateDevPaths lists devpaths that occur more than once, in first-seen
// order. Striding relies on at most one event per device.
func (q *Queue) DuplicateDevPaths() []string {
	seen := make(map[string]int, len(q.events))
	var dups []string
	for _, e := range q.events {
		seen[e.DevPath]++
		if seen[e.DevPath] == 2 {
			dups = append(dups, e.DevPath)
		}
	}
	return dups
}

// maxSnapshotPrealloc bounds the capacity reserved from an untrusted header.
const maxSnapshotPrealloc = 1 << 16

type snapshotHeader struct {
	Version int `json:"version"`
	Count   int `json:"count"`
}

// WriteSnapshot persists the queue as JSON lines: a header followed by one
// event per line. The file is written to a temporary name and renamed so a
// worker never observes a partial snapshot.
func (q *Queue) WriteSnapshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".queue-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, Count: len(q.events)}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode snapshot header: %w", err)
	}
	for i, e := range q.events {
		if err := enc.Encode(e); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode event %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a queue written by WriteSnapshot.
func LoadSnapshot(path string) (*Queue, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrCorruptSnapshot, header.Version, snapshotVersion)
	}

	if header.Count < 0 {
		return nil, fmt.Errorf("%w: negative event count %d", ErrCorruptSnapshot, header.Count)
	}

	q := &Queue{events: make([]Event, 0, min(header.Count, maxSnapshotPrealloc))}
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(q.events), err)
		}
		if e.Env == nil {
			e.Env = map[string]string{}
		}
		q.events = append(q.events, e)
	}
	if len(q.events) != header.Count {
		return nil, fmt.Errorf("%w: header announces %d events, found %d", ErrCorruptSnapshot, header.Count, len(q.events))
	}
	return q, nil
}
