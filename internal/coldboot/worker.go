package coldboot

import (
	"context"
	"fmt"

	"ueventd/internal/uevent"
)

// DeviceHandler applies one event.
type DeviceHandler interface {
	HandleDeviceEvent(uevent.Event)
}

// WorkerMain handles every queue position part yields, in order. It returns
// nil when the partition is exhausted; the worker process then exits 0.
func WorkerMain(ctx context.Context, queue *uevent.Queue, part Partitioner, handler DeviceHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos, ok, err := part.Next()
		if err != nil {
			return fmt.Errorf("claim queue position: %w", err)
		}
		if !ok {
			return nil
		}
		if pos < 0 || pos >= queue.Len() {
			return fmt.Errorf("queue position %d out of range [0,%d)", pos, queue.Len())
		}
		handler.HandleDeviceEvent(queue.At(pos))
	}
}

// RunWorker loads the snapshot named by spec and runs WorkerMain over it.
func RunWorker(ctx context.Context, spec WorkerSpec, handler DeviceHandler) error {
	queue, err := uevent.LoadSnapshot(spec.SnapshotPath)
	if err != nil {
		return err
	}
	part, err := NewPartitioner(spec, queue.Len())
	if err != nil {
		return err
	}
	if closer, ok := part.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	return WorkerMain(ctx, queue, part, handler)
}
