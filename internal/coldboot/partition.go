package coldboot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"ueventd/internal/config"
)

// Partitioner yields the queue positions one worker handles. Next returns
// false once the worker's share is exhausted.
type Partitioner interface {
	Next() (int, bool, error)
}

// NewPartitioner builds the partitioner for spec over a queue of length
// events.
func NewPartitioner(spec WorkerSpec, length int) (Partitioner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Strategy {
	case "", config.StrategyStride:
		return NewStride(spec.Index, spec.Total, length), nil
	case config.StrategySharedQueue:
		if spec.CursorPath == "" {
			return nil, errors.New("shared_queue strategy needs a cursor path")
		}
		return NewSharedQueue(spec.CursorPath, length), nil
	default:
		return nil, fmt.Errorf("unknown partition strategy %q", spec.Strategy)
	}
}

// Stride hands worker index the positions index, index+total, ... below
// length. Workers with index >= length get nothing.
type Stride struct {
	next   int
	step   int
	length int
}

// NewStride returns the stride partition for one worker.
func NewStride(index, total, length int) *Stride {
	if total < 1 {
		total = 1
	}
	return &Stride{next: index, step: total, length: length}
}

func (s *Stride) Next() (int, bool, error) {
	if s.next < 0 || s.next >= s.length {
		return 0, false, nil
	}
	pos := s.next
	s.next += s.step
	return pos, true, nil
}

// SharedQueue claims positions from a cursor file shared by all workers. The
// cursor holds the next unclaimed position and is only touched while holding
// an exclusive lock on the companion .lock file.
type SharedQueue struct {
	cursor string
	lock   *flock.Flock
	length int
}

// NewSharedQueue opens the shared cursor at path.
func NewSharedQueue(path string, length int) *SharedQueue {
	return &SharedQueue{
		cursor: path,
		lock:   flock.New(path + ".lock"),
		length: length,
	}
}

// InitCursor resets the cursor at path to zero.
func InitCursor(path string) error {
	if err := os.WriteFile(path, []byte("0\n"), 0o600); err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	return nil
}

func (q *SharedQueue) Next() (int, bool, error) {
	if err := q.lock.Lock(); err != nil {
		return 0, false, fmt.Errorf("lock cursor: %w", err)
	}
	defer func() { _ = q.lock.Unlock() }()

	pos, err := readCursor(q.cursor)
	if err != nil {
		return 0, false, err
	}
	if pos >= q.length {
		return 0, false, nil
	}
	if err := os.WriteFile(q.cursor, []byte(strconv.Itoa(pos+1)+"\n"), 0o600); err != nil {
		return 0, false, fmt.Errorf("advance cursor: %w", err)
	}
	return pos, true, nil
}

// Close releases the lock file handle.
func (q *SharedQueue) Close() error {
	return q.lock.Close()
}

func readCursor(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pos, err := strconv.Atoi(text)
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("corrupt cursor %q", text)
	}
	return pos, nil
}
