package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations ueventd reads and writes.
type Paths struct {
	SysfsRoot      string `toml:"sysfs_root"`
	DevRoot        string `toml:"dev_root"`
	StateDir       string `toml:"state_dir"`
	ColdbootMarker string `toml:"coldboot_marker"`
	HistoryDB      string `toml:"history_db"`
	ControlSocket  string `toml:"control_socket"`
}

// ColdBoot contains cold-boot coordinator settings.
type ColdBoot struct {
	// Workers is the number of handler processes. Zero selects the number of
	// available CPUs.
	Workers int `toml:"workers"`
	// Strategy selects how the event queue is split: "stride" or "shared_queue".
	Strategy string `toml:"strategy"`
	// Spawn selects worker isolation: "exec" re-executes ueventd per worker,
	// "inprocess" runs workers as goroutines with handler calls serialized.
	Spawn string `toml:"spawn"`
	// RegenerateRoots are sysfs directories walked for uevent control files.
	RegenerateRoots []string `toml:"regenerate_roots"`
	// RestoreconRoots are relabeled recursively while workers run.
	RestoreconRoots []string `toml:"restorecon_roots"`
	// CheckUniqueDevices warns when regeneration yields two events for one devpath.
	CheckUniqueDevices bool `toml:"check_unique_devices"`
	// KeepSnapshot leaves the queue snapshot in the state dir after the run.
	KeepSnapshot bool `toml:"keep_snapshot"`
}

// Firmware contains firmware loading settings.
type Firmware struct {
	Enabled bool     `toml:"enabled"`
	Dirs    []string `toml:"dirs"`
}

// FileContext maps a path regular expression to a security context.
type FileContext struct {
	Pattern string `toml:"pattern"`
	Context string `toml:"context"`
}

// SELinux contains security label restoration settings.
type SELinux struct {
	Enabled  bool          `toml:"enabled"`
	Contexts []FileContext `toml:"contexts"`
}

// DevicePermission describes ownership and mode for device nodes matching Path.
type DevicePermission struct {
	Path  string `toml:"path"`
	Mode  string `toml:"mode"`
	User  string `toml:"user"`
	Group string `toml:"group"`
}

// SysfsPermission describes ownership and mode for one attribute of the sysfs
// directories matching Path.
type SysfsPermission struct {
	Path  string `toml:"path"`
	Attr  string `toml:"attr"`
	Mode  string `toml:"mode"`
	User  string `toml:"user"`
	Group string `toml:"group"`
}

// Subsystem overrides how nodes of one kernel subsystem are named and placed.
type Subsystem struct {
	Name string `toml:"name"`
	// DevName is "devname" (use the DEVNAME key) or "devpath" (basename of DEVPATH).
	DevName string `toml:"devname"`
	Dir     string `toml:"dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format  string   `toml:"format"`
	Level   string   `toml:"level"`
	Outputs []string `toml:"outputs"`
}

// Metrics contains configuration for the cold-boot diagnostics export.
type Metrics struct {
	Textfile string `toml:"textfile"`
}

// Config encapsulates all configuration values for ueventd.
//
// Configuration sections by subsystem:
//   - Paths: sysfs/dev roots, state directory, completion marker
//   - ColdBoot: worker count, partition strategy, walk roots
//   - Firmware: firmware search directories
//   - SELinux: file context rules used for label restoration
//   - Devices / Sysfs / Subsystems: device handler rules
//   - Logging: log format, level and outputs
//   - Metrics: textfile destination for cold-boot diagnostics
type Config struct {
	Paths      Paths              `toml:"paths"`
	ColdBoot   ColdBoot           `toml:"coldboot"`
	Firmware   Firmware           `toml:"firmware"`
	SELinux    SELinux            `toml:"selinux"`
	Devices    []DevicePermission `toml:"devices"`
	Sysfs      []SysfsPermission  `toml:"sysfs"`
	Subsystems []Subsystem        `toml:"subsystems"`
	Logging    Logging            `toml:"logging"`
	Metrics    Metrics            `toml:"metrics"`
}

// Load locates, parses, and validates a configuration file. It returns the
// resolved path and whether a file existed there; a missing file yields the
// defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	candidates := defaultConfigPaths
	if strings.TrimSpace(path) != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		abs, err := filepath.Abs(filepath.Clean(candidate))
		if err != nil {
			return "", false, fmt.Errorf("resolve config path %q: %w", candidate, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", abs)
		}
		return abs, true, nil
	}

	abs, err := filepath.Abs(filepath.Clean(candidates[0]))
	if err != nil {
		return "", false, fmt.Errorf("resolve config path %q: %w", candidates[0], err)
	}
	return abs, false, nil
}

// EnsureDirectories creates the state directory used for queue snapshots,
// locks and the control socket.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", c.Paths.StateDir, err)
	}
	if dir := filepath.Dir(c.Paths.HistoryDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock file for the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "ueventd.lock")
}

// SysfsPath joins a kernel devpath onto the configured sysfs root.
func (c *Config) SysfsPath(devpath string) string {
	return filepath.Join(c.Paths.SysfsRoot, strings.TrimPrefix(devpath, "/"))
}

// Marshal renders the effective configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
