// Package logging assembles structured slog loggers and formatting helpers used
// across ueventd.
//
// It owns the console and JSON handlers, centralizes level and output plumbing
// (including the kernel log at /dev/kmsg, which is often the only sink available
// during early boot), and standardizes the attribute keys every component uses.
// Cold-boot workers log through the same constructors so their lines carry the
// run and worker identifiers of the coordinator that spawned them.
package logging
