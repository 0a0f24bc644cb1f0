// Package ipc exposes the running daemon over a JSON-RPC Unix socket and
// ships the matching client used by the CLI.
//
// The protocol is read-only: clients can observe cold-boot progress and live
// event counters but cannot steer the daemon. The client decorates calls with
// a dial timeout so CLI commands fail fast when the daemon is offline.
package ipc
