// Package listener is the event source: it owns the kernel uevent netlink
// socket and the sysfs traversal that asks the kernel to re-emit "add" events
// for devices registered before ueventd started.
//
// The socket is opened once and kept for the process lifetime, so uevents that
// arrive while cold boot is busy stay buffered in the kernel and are delivered
// by Poll afterwards.
package listener
