// Package daemon runs the long-lived ueventd process.
//
// A Daemon takes a flock so only one instance manages /dev, runs cold boot
// unless the completion marker already exists, and then services live kernel
// events until its context is canceled. Each live event goes to the firmware
// hook first and then to the device handler, which is in per-event label mode
// by then.
//
// Keep orchestration here: node handling lives in devices, replay in
// coldboot and socket handling in listener.
package daemon
