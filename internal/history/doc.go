// Package history persists cold-boot run reports in SQLite.
//
// One row per coordinator run, successful or not. The store is opened by the
// coordinator process only, after regeneration, and is read by the status and
// history commands. Schema changes bump schemaVersion in schema.go; operators
// delete the database to adopt a new schema.
package history
