package firmware_test

import (
	"os"
	"path/filepath"
	"testing"

	"ueventd/internal/config"
	"ueventd/internal/firmware"
	"ueventd/internal/testsupport"
	"ueventd/internal/uevent"
)

func setup(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	fwDir := t.TempDir()
	cfg.Firmware.Dirs = []string{filepath.Join(t.TempDir(), "empty"), fwDir}

	request := filepath.Join(cfg.Paths.SysfsRoot, "devices/platform/wlan/firmware/wlan0")
	for _, name := range []string{"loading", "data"} {
		testsupport.WriteFile(t, filepath.Join(request, name), nil)
	}
	return cfg, fwDir
}

func request(fw string) uevent.Event {
	return uevent.New(uevent.ActionAdd, "/devices/platform/wlan/firmware/wlan0", map[string]string{
		"SUBSYSTEM": "firmware",
		"FIRMWARE":  fw,
	})
}

func readAttr(t *testing.T, cfg *config.Config, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.Paths.SysfsRoot, "devices/platform/wlan/firmware/wlan0", name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestLoadsImage(t *testing.T) {
	cfg, fwDir := setup(t)
	testsupport.WriteFile(t, filepath.Join(fwDir, "brcm", "fw.bin"), []byte("blob"))

	l := firmware.New(cfg, nil)
	l.HandleFirmwareEvent(request("brcm/fw.bin"))

	if got := readAttr(t, cfg, "data"); got != "blob" {
		t.Fatalf("unexpected data %q", got)
	}
	if got := readAttr(t, cfg, "loading"); got != "0" {
		t.Fatalf("expected loading=0 after success, got %q", got)
	}
	if l.Loaded() != 1 || l.Missing() != 0 {
		t.Fatalf("unexpected counters loaded=%d missing=%d", l.Loaded(), l.Missing())
	}
}

func TestMissingImageAborts(t *testing.T) {
	cfg, _ := setup(t)
	l := firmware.New(cfg, nil)
	l.HandleFirmwareEvent(request("absent.bin"))

	if got := readAttr(t, cfg, "loading"); got != "-1" {
		t.Fatalf("expected loading=-1, got %q", got)
	}
	if l.Missing() != 1 {
		t.Fatalf("expected one missing request, got %d", l.Missing())
	}
}

func TestIgnoresOtherEvents(t *testing.T) {
	cfg, _ := setup(t)
	l := firmware.New(cfg, nil)

	l.HandleFirmwareEvent(uevent.New(uevent.ActionAdd, "/devices/virtual/mem/null", map[string]string{"SUBSYSTEM": "mem"}))
	ev := request("absent.bin")
	ev.Action = uevent.ActionRemove
	l.HandleFirmwareEvent(ev)

	cfg.Firmware.Enabled = false
	firmware.New(cfg, nil).HandleFirmwareEvent(request("absent.bin"))

	if got := readAttr(t, cfg, "loading"); got != "" {
		t.Fatalf("loading must be untouched, got %q", got)
	}
}
