// Package devices turns kernel uevents into device nodes under the dev root.
//
// A Handler creates, chowns, chmods and labels character and block nodes,
// maintains partition by-name links, applies sysfs attribute permissions and
// removes nodes again when devices disappear. Handler errors are logged and
// never returned: one bad device must not stop cold boot.
//
// The handler also owns the label restoration mode. During cold boot the
// coordinator relabels sysfs in bulk, so per-event recursive relabeling is
// skipped (LabelBulk). Once the bulk pass returns the coordinator switches the
// handler to LabelPerEvent; the switch is one-way.
package devices
