// Package selinux restores security labels on device nodes and sysfs trees.
//
// File contexts come from the selinux.contexts section of the configuration;
// the last matching pattern wins. Labels are read and written through the
// security.selinux extended attribute without following symlinks. When the
// kernel exposes no selinuxfs, or labeling is disabled in the configuration,
// every operation is a no-op.
package selinux
