package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"ueventd/internal/config"
	"ueventd/internal/logging"
	"ueventd/internal/selinux"
	"ueventd/internal/uevent"
)

// NodeOps performs the filesystem calls that need privileges.
type NodeOps interface {
	Mknod(path string, mode uint32, dev int) error
	Chown(path string, uid, gid int) error
	Chmod(path string, mode os.FileMode) error
}

// Labeler restores security labels.
type Labeler interface {
	Restore(path string) (bool, error)
	RestoreRecursive(ctx context.Context, roots ...string) (selinux.Stats, error)
}

// Handler applies device events to the dev and sysfs trees.
type Handler struct {
	devRoot    string
	sysfsRoot  string
	devices    []permission
	sysfs      []permission
	subsystems map[string]config.Subsystem
	labeler    Labeler
	ops        NodeOps
	logger     *slog.Logger

	modeMu      sync.Mutex
	mode        LabelMode
	transitions int

	handled  atomic.Int64
	failures atomic.Int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithNodeOps replaces the privileged filesystem calls.
func WithNodeOps(ops NodeOps) Option {
	return func(h *Handler) {
		if ops != nil {
			h.ops = ops
		}
	}
}

// New builds a handler in LabelBulk mode. Owner and group names in the
// permission rules are resolved once here.
func New(cfg *config.Config, labeler Labeler, logger *slog.Logger, opts ...Option) (*Handler, error) {
	devRules, err := compileDeviceRules(cfg.Devices)
	if err != nil {
		return nil, err
	}
	sysfsRules, err := compileSysfsRules(cfg.Sysfs)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		devRoot:    cfg.Paths.DevRoot,
		sysfsRoot:  cfg.Paths.SysfsRoot,
		devices:    devRules,
		sysfs:      sysfsRules,
		subsystems: make(map[string]config.Subsystem, len(cfg.Subsystems)),
		labeler:    labeler,
		ops:        kernelOps{},
		logger:     logging.NewComponentLogger(logger, "devices"),
		mode:       LabelBulk,
	}
	for _, sub := range cfg.Subsystems {
		h.subsystems[sub.Name] = sub
	}
	if h.labeler == nil {
		h.labeler = noopLabeler{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// HandleDeviceEvent applies one event. Failures are logged and counted.
func (h *Handler) HandleDeviceEvent(ev uevent.Event) {
	h.handled.Add(1)
	switch ev.Action {
	case uevent.ActionAdd:
		h.fixupSysfs(ev)
		h.addNode(ev)
	case uevent.ActionRemove:
		h.removeNode(ev)
	case uevent.ActionChange, uevent.ActionOnline, uevent.ActionBind, uevent.ActionMove:
		h.fixupSysfs(ev)
	}
}

// Handled is the number of events seen by HandleDeviceEvent.
func (h *Handler) Handled() int64 {
	return h.handled.Load()
}

// Failures is the number of events that left a node or attribute unfinished.
func (h *Handler) Failures() int64 {
	return h.failures.Load()
}

// NodePath returns where the device node for ev lives, or false when the
// event describes no node.
func (h *Handler) NodePath(ev uevent.Event) (string, bool) {
	node, err := h.nodePath(ev)
	if err != nil {
		return "", false
	}
	return node, true
}

func (h *Handler) nodePath(ev uevent.Event) (string, error) {
	if !ev.HasDevNode() {
		return "", errors.New("event has no device numbers")
	}
	name := ev.DevName
	dir := ""
	if sub, ok := h.subsystems[ev.Subsystem]; ok {
		if sub.DevName == config.DevNameFromDevPath || name == "" {
			name = ev.BaseName()
		}
		dir = sub.Dir
	} else if ev.IsBlock() {
		if name == "" {
			name = ev.BaseName()
		}
		name = path.Base(name)
		dir = path.Join(devPrefix, "block")
	} else if name == "" {
		name = ev.BaseName()
	}
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("no device name for %s", ev.DevPath)
	}

	rel := strings.TrimPrefix(path.Clean("/"+dir), devPrefix)
	node := filepath.Join(h.devRoot, rel, name)
	within, err := filepath.Rel(h.devRoot, node)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", fmt.Errorf("device name %q escapes %s", name, h.devRoot)
	}
	return node, nil
}

// logicalDevPath rewrites a node below the configured dev root to the /dev
// form permission rules are written in.
func (h *Handler) logicalDevPath(node string) string {
	rel, err := filepath.Rel(h.devRoot, node)
	if err != nil {
		return node
	}
	return path.Join(devPrefix, filepath.ToSlash(rel))
}

func (h *Handler) addNode(ev uevent.Event) {
	if !ev.HasDevNode() {
		return
	}
	node, err := h.nodePath(ev)
	if err != nil {
		h.fail(ev, "cannot place device node", err)
		return
	}

	perm, ok := lookupPermission(h.devices, h.logicalDevPath(node))
	if !ok {
		perm = permission{mode: defaultNodeMode}
	}
	if err := os.MkdirAll(filepath.Dir(node), 0o755); err != nil {
		h.fail(ev, "cannot create device directory", err)
		return
	}

	kind := uint32(unix.S_IFCHR)
	if ev.IsBlock() {
		kind = unix.S_IFBLK
	}
	dev := unix.Mkdev(uint32(ev.Major), uint32(ev.Minor))
	if err := h.ops.Mknod(node, kind|uint32(perm.mode.Perm()), int(dev)); err != nil && !errors.Is(err, fs.ErrExist) {
		h.fail(ev, "mknod failed", err)
		return
	}
	if err := h.ops.Chown(node, perm.uid, perm.gid); err != nil {
		h.fail(ev, "chown device node failed", err)
	}
	if err := h.ops.Chmod(node, perm.mode); err != nil {
		h.fail(ev, "chmod device node failed", err)
	}
	if _, err := h.labeler.Restore(node); err != nil {
		h.fail(ev, "label device node failed", err)
	}

	if ev.IsBlock() && ev.PartitionName != "" {
		h.linkByName(ev, node)
	}

	h.logger.Debug("device node ready",
		logging.String(logging.FieldDevPath, ev.DevPath),
		logging.String(logging.FieldPath, node),
		logging.String("mode", fmt.Sprintf("%#o", perm.mode.Perm())),
		logging.Int("uid", perm.uid),
		logging.Int("gid", perm.gid),
	)
}

func (h *Handler) byNamePath(ev uevent.Event) string {
	return filepath.Join(h.devRoot, "block", "by-name", sanitizePartitionName(ev.PartitionName))
}

func (h *Handler) linkByName(ev uevent.Event, node string) {
	link := h.byNamePath(ev)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		h.fail(ev, "cannot create by-name directory", err)
		return
	}
	if current, err := os.Readlink(link); err == nil {
		if current == node {
			return
		}
		logging.WarnWithContext(h.logger, "partition name already linked; replacing", "duplicate_partition_name",
			logging.String(logging.FieldDevPath, ev.DevPath),
			logging.String(logging.FieldPath, link),
			logging.String("previous_target", current),
			logging.String(logging.FieldImpact, "by-name link now points at the most recent partition"),
			logging.String(logging.FieldErrorHint, "check for two devices exposing the same PARTNAME"),
		)
		_ = os.Remove(link)
	}
	if err := os.Symlink(node, link); err != nil && !errors.Is(err, fs.ErrExist) {
		h.fail(ev, "by-name symlink failed", err)
	}
}

func (h *Handler) removeNode(ev uevent.Event) {
	if !ev.HasDevNode() {
		return
	}
	node, err := h.nodePath(ev)
	if err != nil {
		return
	}
	if ev.IsBlock() && ev.PartitionName != "" {
		link := h.byNamePath(ev)
		if current, err := os.Readlink(link); err == nil && current == node {
			_ = os.Remove(link)
		}
	}
	if err := os.Remove(node); err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.fail(ev, "remove device node failed", err)
		return
	}
	h.logger.Debug("device node removed",
		logging.String(logging.FieldDevPath, ev.DevPath),
		logging.String(logging.FieldPath, node),
	)
}

// fixupSysfs applies attribute permissions below /sys/<devpath> and, in
// per-event mode, relabels that subtree.
func (h *Handler) fixupSysfs(ev uevent.Event) {
	if ev.DevPath == "" {
		return
	}
	sysPath := filepath.Join(h.sysfsRoot, strings.TrimPrefix(ev.DevPath, "/"))
	logical := path.Join(sysPrefix, ev.DevPath)
	for _, rule := range h.sysfs {
		if !rule.matches(logical) {
			continue
		}
		attr := filepath.Join(sysPath, rule.attr)
		if err := h.ops.Chown(attr, rule.uid, rule.gid); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			h.fail(ev, "chown sysfs attribute failed", err)
			continue
		}
		if err := h.ops.Chmod(attr, rule.mode); err != nil {
			h.fail(ev, "chmod sysfs attribute failed", err)
		}
	}

	if h.LabelMode() != LabelPerEvent {
		return
	}
	if _, err := h.labeler.RestoreRecursive(context.Background(), sysPath); err != nil {
		h.fail(ev, "sysfs relabel failed", err)
	}
}

func (h *Handler) fail(ev uevent.Event, msg string, err error) {
	h.failures.Add(1)
	logging.WarnWithContext(h.logger, msg, "device_event_failed",
		logging.String(logging.FieldDevPath, ev.DevPath),
		logging.String(logging.FieldAction, string(ev.Action)),
		logging.String(logging.FieldSubsystem, ev.Subsystem),
		logging.Error(err),
		logging.String(logging.FieldImpact, "device node may be missing or have wrong permissions"),
		logging.String(logging.FieldErrorHint, "check the devices and sysfs rules in the ueventd config"),
	)
}

// sanitizePartitionName keeps by-name links inside their directory.
func sanitizePartitionName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return strings.Repeat("_", len(out))
	}
	return out
}

type kernelOps struct{}

func (kernelOps) Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}

func (kernelOps) Chown(path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

func (kernelOps) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

type noopLabeler struct{}

func (noopLabeler) Restore(string) (bool, error) { return false, nil }

func (noopLabeler) RestoreRecursive(context.Context, ...string) (selinux.Stats, error) {
	return selinux.Stats{}, nil
}
