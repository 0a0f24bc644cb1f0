// Package uevent defines the immutable kernel device-event record shared by
// the event source, the device handler and the cold-boot coordinator, plus the
// ordered queue that cold boot replays across worker processes.
//
// A Queue is written once to a snapshot file before any worker starts; workers
// load that snapshot instead of inheriting the coordinator's memory, which is
// how the queue reaches a freshly executed process unchanged.
package uevent
