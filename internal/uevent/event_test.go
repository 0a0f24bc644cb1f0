package uevent_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"ueventd/internal/uevent"
)

func TestFromNetlinkParsesKernelKeys(t *testing.T) {
	raw := netlink.UEvent{
		Action: netlink.ADD,
		KObj:   "/devices/platform/soc/mmc0/block/mmcblk0/mmcblk0p3",
		Env: map[string]string{
			"ACTION":    "add",
			"DEVPATH":   "/devices/platform/soc/mmc0/block/mmcblk0/mmcblk0p3",
			"SUBSYSTEM": "block",
			"MAJOR":     "179",
			"MINOR":     "3",
			"DEVNAME":   "mmcblk0p3",
			"PARTN":     "3",
			"PARTNAME":  "system",
		},
	}

	ev := uevent.FromNetlink(raw)
	if ev.Action != uevent.ActionAdd {
		t.Fatalf("expected add action, got %q", ev.Action)
	}
	if ev.Major != 179 || ev.Minor != 3 || !ev.HasDevNode() {
		t.Fatalf("unexpected device numbers %d:%d", ev.Major, ev.Minor)
	}
	if !ev.IsBlock() || ev.PartitionName != "system" || ev.PartitionNum != 3 {
		t.Fatalf("unexpected partition fields: %+v", ev)
	}
	if ev.BaseName() != "mmcblk0p3" {
		t.Fatalf("unexpected base name %q", ev.BaseName())
	}

	raw.Env["DEVNAME"] = "changed"
	if ev.DevName != "mmcblk0p3" || ev.Value("DEVNAME") != "mmcblk0p3" {
		t.Fatal("event must not alias the source environment")
	}
}

func TestNewWithoutDeviceNumbers(t *testing.T) {
	ev := uevent.New(uevent.ActionAdd, "/devices/virtual/net/lo", map[string]string{"SUBSYSTEM": "net"})
	if ev.HasDevNode() {
		t.Fatal("net interface should not carry a device node")
	}
	if ev.PartitionNum != -1 {
		t.Fatalf("expected missing PARTN to be -1, got %d", ev.PartitionNum)
	}
	if got := ev.String(); got != "add /devices/virtual/net/lo subsystem=net" {
		t.Fatalf("unexpected String(): %q", got)
	}
}

func TestSnapshotRoundTripPreservesOrder(t *testing.T) {
	q := uevent.NewQueue()
	for i, devpath := range []string{"/devices/a", "/devices/b", "/devices/c"} {
		q.Append(uevent.New(uevent.ActionAdd, devpath, map[string]string{
			"MAJOR": "1",
			"MINOR": string(rune('0' + i)),
		}))
	}

	path := filepath.Join(t.TempDir(), "state", "queue.jsonl")
	if err := q.WriteSnapshot(path); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	loaded, err := uevent.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if loaded.Len() != q.Len() {
		t.Fatalf("expected %d events, got %d", q.Len(), loaded.Len())
	}
	for i := 0; i < q.Len(); i++ {
		if !reflect.DeepEqual(q.At(i), loaded.At(i)) {
			t.Fatalf("event %d differs: %+v vs %+v", i, q.At(i), loaded.At(i))
		}
	}
}

func TestLoadSnapshotDetectsTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	body := `{"version":1,"count":2}` + "\n" + `{"action":"add","devpath":"/devices/a","major":-1,"minor":-1,"partn":-1}` + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := uevent.LoadSnapshot(path); !errors.Is(err, uevent.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestDuplicateDevPaths(t *testing.T) {
	q := uevent.NewQueue(
		uevent.New(uevent.ActionAdd, "/devices/a", nil),
		uevent.New(uevent.ActionAdd, "/devices/b", nil),
		uevent.New(uevent.ActionAdd, "/devices/a", nil),
		uevent.New(uevent.ActionAdd, "/devices/a", nil),
	)
	dups := q.DuplicateDevPaths()
	if len(dups) != 1 || dups[0] != "/devices/a" {
		t.Fatalf("unexpected duplicates %v", dups)
	}
}

func TestLoadSnapshotRejectsNegativeCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	if err := os.WriteFile(path, []byte(`{"version":1,"count":-1}`+"\n"), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := uevent.LoadSnapshot(path); !errors.Is(err, uevent.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}
