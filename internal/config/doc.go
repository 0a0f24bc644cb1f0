// Package config loads, normalizes, and validates ueventd configuration data.
//
// It supplies defaults that match a stock device tree, reads TOML files,
// applies UEVENTD_* environment overrides, and exposes the device, sysfs and
// subsystem rules the device handler consults. Cold-boot workers load the same
// file as the coordinator, so every value here must be derivable from the file
// path plus environment alone.
package config
