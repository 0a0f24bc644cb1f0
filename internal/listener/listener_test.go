package listener_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ueventd/internal/config"
	"ueventd/internal/listener"
	"ueventd/internal/testsupport"
	"ueventd/internal/uevent"
)

type fakeConn struct {
	mu      sync.Mutex
	pending []uevent.Event
	closed  bool
}

func (c *fakeConn) push(ev uevent.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, ev)
}

func (c *fakeConn) Pending(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	ready := len(c.pending) > 0
	c.mu.Unlock()
	if !ready && timeout > 0 {
		time.Sleep(time.Millisecond)
	}
	return ready, nil
}

func (c *fakeConn) Read() (uevent.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return uevent.Event{}, errors.New("nothing pending")
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func buildSysfs(t *testing.T, devices ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, dev := range devices {
		testsupport.WriteSysfsDevice(t, root, dev)
	}
	if err := os.MkdirAll(filepath.Join(root, "class", "tty"), 0o755); err != nil {
		t.Fatalf("mkdir class: %v", err)
	}
	return root
}

func newTestListener(t *testing.T, sysfs string, conn *fakeConn) *listener.Listener {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.SysfsRoot = sysfs
	trigger := func(path string) error {
		devpath := strings.TrimPrefix(filepath.Dir(path), sysfs)
		conn.push(uevent.New(uevent.ActionAdd, devpath, nil))
		return nil
	}
	return listener.New(conn, &cfg, nil, listener.WithTrigger(trigger), listener.WithPollInterval(time.Millisecond))
}

func TestRegenerateEventsVisitsParentsFirst(t *testing.T) {
	sysfs := buildSysfs(t, "devices/platform/soc", "devices/platform/soc/serial0", "devices/virtual/mem/null", "block/loop0")
	conn := &fakeConn{}
	l := newTestListener(t, sysfs, conn)

	var got []string
	err := l.RegenerateEvents(func(ev uevent.Event) listener.Action {
		got = append(got, ev.DevPath)
		return listener.Continue
	})
	if err != nil {
		t.Fatalf("RegenerateEvents failed: %v", err)
	}

	want := []string{
		"/block/loop0",
		"/devices/platform/soc",
		"/devices/platform/soc/serial0",
		"/devices/virtual/mem/null",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order:\n got %v\nwant %v", got, want)
	}
}

func TestRegenerateEventsHonorsStop(t *testing.T) {
	sysfs := buildSysfs(t, "devices/a", "devices/b", "devices/c")
	conn := &fakeConn{}
	l := newTestListener(t, sysfs, conn)

	calls := 0
	err := l.RegenerateEvents(func(uevent.Event) listener.Action {
		calls++
		if calls == 2 {
			return listener.Stop
		}
		return listener.Continue
	})
	if err != nil {
		t.Fatalf("RegenerateEvents failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected regeneration to stop after 2 events, got %d", calls)
	}
}

func TestRegenerateEventsSkipsMissingRoots(t *testing.T) {
	conn := &fakeConn{}
	l := newTestListener(t, t.TempDir(), conn)
	if err := l.RegenerateEvents(func(uevent.Event) listener.Action { return listener.Continue }); err != nil {
		t.Fatalf("missing roots should be skipped, got %v", err)
	}
}

func TestPollDeliversUntilStop(t *testing.T) {
	conn := &fakeConn{}
	for _, devpath := range []string{"/devices/x", "/devices/y", "/devices/z"} {
		conn.push(uevent.New(uevent.ActionChange, devpath, nil))
	}
	l := newTestListener(t, t.TempDir(), conn)

	var got []string
	err := l.Poll(context.Background(), func(ev uevent.Event) listener.Action {
		got = append(got, ev.DevPath)
		if len(got) == 2 {
			return listener.Stop
		}
		return listener.Continue
	})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if len(got) != 2 || got[0] != "/devices/x" || got[1] != "/devices/y" {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestPollReturnsOnCancel(t *testing.T) {
	l := newTestListener(t, t.TempDir(), &fakeConn{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Poll(ctx, func(uevent.Event) listener.Action { return listener.Continue })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
