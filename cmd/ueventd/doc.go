// Package main hosts the ueventd entrypoint and command graph.
//
// Invoked without a subcommand the binary runs the device daemon: cold boot
// once, then the live uevent loop. The hidden coldboot-worker subcommand is
// how the daemon re-executes itself to replay a slice of the cold-boot
// queue. The remaining commands are operator tooling that read the marker,
// the control socket and the run history.
package main
