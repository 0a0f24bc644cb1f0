package devices_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ueventd/internal/config"
	"ueventd/internal/devices"
	"ueventd/internal/selinux"
	"ueventd/internal/testsupport"
	"ueventd/internal/uevent"
)

type fakeNode struct {
	mode uint32
	dev  int
}

// fakeOps creates regular files instead of device nodes so tests run
// unprivileged.
type fakeOps struct {
	mu     sync.Mutex
	nodes  map[string]fakeNode
	owners map[string][2]int
	modes  map[string]os.FileMode
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		nodes:  map[string]fakeNode{},
		owners: map[string][2]int{},
		modes:  map[string]os.FileMode{},
	}
}

func (f *fakeOps) Mknod(path string, mode uint32, dev int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	f.nodes[path] = fakeNode{mode: mode, dev: dev}
	return file.Close()
}

func (f *fakeOps) Chown(path string, uid, gid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Lstat(path); err != nil {
		return err
	}
	f.owners[path] = [2]int{uid, gid}
	return nil
}

func (f *fakeOps) Chmod(path string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[path] = mode
	return nil
}

type fakeLabeler struct {
	mu        sync.Mutex
	restored  []string
	recursive []string
}

func (l *fakeLabeler) Restore(path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restored = append(l.restored, path)
	return true, nil
}

func (l *fakeLabeler) RestoreRecursive(_ context.Context, roots ...string) (selinux.Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recursive = append(l.recursive, roots...)
	return selinux.Stats{Visited: int64(len(roots))}, nil
}

func newHandler(t *testing.T, mutate func(*config.Config)) (*devices.Handler, *fakeOps, *fakeLabeler, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithDevices(
		config.DevicePermission{Path: "/dev/null", Mode: "0666", User: "0", Group: "0"},
		config.DevicePermission{Path: "/dev/block/**", Mode: "0600", User: "0", Group: "6"},
		config.DevicePermission{Path: "/dev/block/mmcblk0p*", Mode: "0640", User: "1000", Group: "1001"},
		config.DevicePermission{Path: "/dev/input/*", Mode: "0660", User: "0", Group: "1004"},
	))
	if mutate != nil {
		mutate(cfg)
	}
	ops := newFakeOps()
	labeler := &fakeLabeler{}
	h, err := devices.New(cfg, labeler, nil, devices.WithNodeOps(ops))
	if err != nil {
		t.Fatalf("devices.New failed: %v", err)
	}
	return h, ops, labeler, cfg
}

func blockEvent(action uevent.Action, name, partname string, minor string) uevent.Event {
	env := map[string]string{
		"SUBSYSTEM": "block",
		"MAJOR":     "179",
		"MINOR":     minor,
		"DEVNAME":   name,
	}
	if partname != "" {
		env["PARTNAME"] = partname
		env["PARTN"] = "1"
	}
	return uevent.New(action, "/devices/platform/soc/mmc0/block/mmcblk0/"+name, env)
}

func TestAddCreatesNodeWithLastMatchingRule(t *testing.T) {
	h, ops, labeler, cfg := newHandler(t, nil)

	h.HandleDeviceEvent(blockEvent(uevent.ActionAdd, "mmcblk0p1", "boot", "1"))

	node := filepath.Join(cfg.Paths.DevRoot, "block", "mmcblk0p1")
	got, ok := ops.nodes[node]
	if !ok {
		t.Fatalf("expected node %s, have %v", node, ops.nodes)
	}
	if got.mode&0o170000 != 0o060000 {
		t.Fatalf("expected block device type bits, got %o", got.mode)
	}
	if got.mode&0o777 != 0o640 {
		t.Fatalf("expected mode 0640, got %o", got.mode&0o777)
	}
	if owner := ops.owners[node]; owner != [2]int{1000, 1001} {
		t.Fatalf("unexpected owner %v", owner)
	}
	if ops.modes[node].Perm() != 0o640 {
		t.Fatalf("expected chmod 0640, got %v", ops.modes[node])
	}
	if len(labeler.restored) != 1 || labeler.restored[0] != node {
		t.Fatalf("expected node to be labeled, got %v", labeler.restored)
	}

	link := filepath.Join(cfg.Paths.DevRoot, "block", "by-name", "boot")
	target, err := os.Readlink(link)
	if err != nil || target != node {
		t.Fatalf("expected by-name link to %s, got %q err=%v", node, target, err)
	}
	if h.Failures() != 0 {
		t.Fatalf("unexpected failures: %d", h.Failures())
	}
}

func TestAddUsesDefaultPermission(t *testing.T) {
	h, ops, _, cfg := newHandler(t, nil)
	h.HandleDeviceEvent(uevent.New(uevent.ActionAdd, "/devices/virtual/misc/fuse", map[string]string{
		"SUBSYSTEM": "misc", "MAJOR": "10", "MINOR": "229", "DEVNAME": "fuse",
	}))
	node := filepath.Join(cfg.Paths.DevRoot, "fuse")
	if ops.nodes[node].mode&0o777 != 0o600 {
		t.Fatalf("expected default mode 0600, got %o", ops.nodes[node].mode&0o777)
	}
	if ops.nodes[node].mode&0o170000 != 0o020000 {
		t.Fatalf("expected character device type bits, got %o", ops.nodes[node].mode)
	}
}

func TestNodePathRules(t *testing.T) {
	h, _, _, cfg := newHandler(t, func(cfg *config.Config) {
		cfg.Subsystems = []config.Subsystem{
			{Name: "sound", DevName: config.DevNameFromDevPath, Dir: "/dev/snd"},
			{Name: "input", DevName: config.DevNameFromUevent, Dir: "/dev/input"},
		}
	})
	dev := cfg.Paths.DevRoot

	tests := []struct {
		name string
		ev   uevent.Event
		want string
		ok   bool
	}{
		{
			name: "devname with directory",
			ev:   uevent.New(uevent.ActionAdd, "/devices/usb1/1-1", map[string]string{"SUBSYSTEM": "usb", "MAJOR": "189", "MINOR": "1", "DEVNAME": "bus/usb/001/002"}),
			want: filepath.Join(dev, "bus/usb/001/002"),
			ok:   true,
		},
		{
			name: "subsystem devpath naming",
			ev:   uevent.New(uevent.ActionAdd, "/devices/sound/card0/pcmC0D0p", map[string]string{"SUBSYSTEM": "sound", "MAJOR": "116", "MINOR": "16", "DEVNAME": "snd/pcmC0D0p"}),
			want: filepath.Join(dev, "snd", "pcmC0D0p"),
			ok:   true,
		},
		{
			name: "subsystem devname naming",
			ev:   uevent.New(uevent.ActionAdd, "/devices/virtual/input/input3/event3", map[string]string{"SUBSYSTEM": "input", "MAJOR": "13", "MINOR": "67", "DEVNAME": "event3"}),
			want: filepath.Join(dev, "input", "event3"),
			ok:   true,
		},
		{
			name: "block without devname",
			ev:   uevent.New(uevent.ActionAdd, "/devices/virtual/block/loop0", map[string]string{"SUBSYSTEM": "block", "MAJOR": "7", "MINOR": "0"}),
			want: filepath.Join(dev, "block", "loop0"),
			ok:   true,
		},
		{
			name: "escaping devname",
			ev:   uevent.New(uevent.ActionAdd, "/devices/x", map[string]string{"SUBSYSTEM": "misc", "MAJOR": "1", "MINOR": "1", "DEVNAME": "../../etc/passwd"}),
			ok:   false,
		},
		{
			name: "no device numbers",
			ev:   uevent.New(uevent.ActionAdd, "/devices/virtual/net/lo", map[string]string{"SUBSYSTEM": "net"}),
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.NodePath(tt.ev)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("NodePath = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRemoveDeletesNodeAndLink(t *testing.T) {
	h, _, _, cfg := newHandler(t, nil)
	h.HandleDeviceEvent(blockEvent(uevent.ActionAdd, "mmcblk0p2", "system", "2"))

	node := filepath.Join(cfg.Paths.DevRoot, "block", "mmcblk0p2")
	link := filepath.Join(cfg.Paths.DevRoot, "block", "by-name", "system")
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("expected link before remove: %v", err)
	}

	h.HandleDeviceEvent(blockEvent(uevent.ActionRemove, "mmcblk0p2", "system", "2"))
	if _, err := os.Lstat(node); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected node removed, got %v", err)
	}
	if _, err := os.Lstat(link); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected link removed, got %v", err)
	}
	if h.Handled() != 2 {
		t.Fatalf("expected 2 handled events, got %d", h.Handled())
	}
}

func TestSysfsAttributePermissions(t *testing.T) {
	h, ops, _, cfg := newHandler(t, func(cfg *config.Config) {
		cfg.Sysfs = []config.SysfsPermission{
			{Path: "/sys/devices/system/cpu/cpu*", Attr: "online", Mode: "0664", User: "0", Group: "1000"},
			{Path: "/sys/devices/system/cpu/cpu*", Attr: "missing", Mode: "0600", User: "0", Group: "0"},
		}
	})
	attr := filepath.Join(cfg.Paths.SysfsRoot, "devices/system/cpu/cpu1", "online")
	testsupport.WriteFile(t, attr, []byte("1"))

	h.HandleDeviceEvent(uevent.New(uevent.ActionChange, "/devices/system/cpu/cpu1", map[string]string{"SUBSYSTEM": "cpu"}))

	if ops.owners[attr] != [2]int{0, 1000} || ops.modes[attr].Perm() != 0o664 {
		t.Fatalf("unexpected attr ownership %v mode %v", ops.owners[attr], ops.modes[attr])
	}
	if h.Failures() != 0 {
		t.Fatalf("missing attributes must be skipped silently, got %d failures", h.Failures())
	}
}

func TestLabelModeTransition(t *testing.T) {
	h, _, labeler, cfg := newHandler(t, nil)
	ev := uevent.New(uevent.ActionAdd, "/devices/virtual/mem/null", map[string]string{
		"SUBSYSTEM": "mem", "MAJOR": "1", "MINOR": "3", "DEVNAME": "null",
	})

	if h.LabelMode() != devices.LabelBulk {
		t.Fatalf("expected bulk mode at start, got %s", h.LabelMode())
	}
	h.HandleDeviceEvent(ev)
	if len(labeler.recursive) != 0 {
		t.Fatalf("bulk mode must not relabel sysfs per event, got %v", labeler.recursive)
	}

	if err := h.SetSkipLabelRestoration(false); err != nil {
		t.Fatalf("flip to per-event failed: %v", err)
	}
	if err := h.SetSkipLabelRestoration(false); err != nil {
		t.Fatalf("repeat flip failed: %v", err)
	}
	if h.Transitions() != 1 || h.LabelMode() != devices.LabelPerEvent {
		t.Fatalf("expected one transition to per-event, got %d %s", h.Transitions(), h.LabelMode())
	}
	if err := h.SetSkipLabelRestoration(true); !errors.Is(err, devices.ErrLabelModeTransition) {
		t.Fatalf("expected ErrLabelModeTransition, got %v", err)
	}

	h.HandleDeviceEvent(ev)
	want := filepath.Join(cfg.Paths.SysfsRoot, "devices/virtual/mem/null")
	if len(labeler.recursive) != 1 || labeler.recursive[0] != want {
		t.Fatalf("expected per-event relabel of %s, got %v", want, labeler.recursive)
	}
}

func TestDuplicatePartitionNameReplacesLink(t *testing.T) {
	h, _, _, cfg := newHandler(t, nil)
	h.HandleDeviceEvent(blockEvent(uevent.ActionAdd, "mmcblk0p3", "misc", "3"))
	h.HandleDeviceEvent(blockEvent(uevent.ActionAdd, "mmcblk0p4", "misc", "4"))

	link := filepath.Join(cfg.Paths.DevRoot, "block", "by-name", "misc")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cfg.Paths.DevRoot, "block", "mmcblk0p4"); target != want {
		t.Fatalf("expected link to %s, got %s", want, target)
	}
}
