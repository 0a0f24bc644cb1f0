// Package coldboot replays every device present at boot and hands the events
// to a pool of worker processes.
//
// A Coordinator run has five steps:
//
//  1. Regenerate: write "add" into every sysfs uevent file, run the firmware
//     hook on each resulting event in arrival order and append it to the
//     queue.
//  2. Spawn: persist the queue as a snapshot and start one worker per
//     partition. Workers are re-executions of the ueventd binary that load
//     the snapshot, so every worker sees the identical queue.
//  3. Restore labels: relabel the sysfs roots in bulk while workers run, then
//     switch the handler to per-event labeling.
//  4. Wait: reap workers until none remain. Any failing worker aborts the run.
//  5. Finalize: create the completion marker and record the run.
//
// Workers split the queue with a Partitioner. The stride strategy gives worker
// i positions i, i+N, i+2N and so on; the shared_queue strategy lets workers
// claim positions one at a time from a cursor file guarded by a file lock.
package coldboot
