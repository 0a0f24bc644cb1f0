package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ueventd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp directory per test. The
// sysfs, dev and state trees are created empty; SELinux labeling is off and
// workers run in-process.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SysfsRoot = filepath.Join(base, "sys")
	cfgVal.Paths.DevRoot = filepath.Join(base, "dev")
	cfgVal.Paths.StateDir = filepath.Join(base, "dev", ".ueventd")
	cfgVal.Paths.ColdbootMarker = filepath.Join(base, "dev", ".coldboot_done")
	cfgVal.Paths.HistoryDB = filepath.Join(base, "dev", ".ueventd", "history.db")
	cfgVal.Paths.ControlSocket = filepath.Join(base, "dev", ".ueventd", "ueventd.sock")
	cfgVal.ColdBoot.Spawn = config.SpawnInProcess
	cfgVal.ColdBoot.Workers = 2
	cfgVal.SELinux.Enabled = false
	cfgVal.Firmware.Dirs = []string{filepath.Join(base, "firmware")}
	cfgVal.Devices = nil

	for _, dir := range []string{cfgVal.Paths.SysfsRoot, cfgVal.Paths.DevRoot, cfgVal.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithWorkers overrides the cold-boot worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ColdBoot.Workers = n
	}
}

// WithStrategy overrides the cold-boot partition strategy.
func WithStrategy(strategy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ColdBoot.Strategy = strategy
	}
}

// WithDevices sets the device permission rules.
func WithDevices(rules ...config.DevicePermission) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices = rules
	}
}

// WithMarker creates the completion marker up front.
func WithMarker() ConfigOption {
	return func(b *configBuilder) {
		if err := os.WriteFile(b.cfg.Paths.ColdbootMarker, nil, 0o644); err != nil {
			b.t.Fatalf("write marker: %v", err)
		}
	}
}
