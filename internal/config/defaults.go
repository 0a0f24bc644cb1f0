package config

import "path/filepath"

const (
	defaultSysfsRoot      = "/sys"
	defaultDevRoot        = "/dev"
	defaultStateDir       = "/dev/.ueventd"
	defaultColdbootMarker = "/dev/.coldboot_done"
	defaultStrategy       = StrategyStride
	defaultSpawn          = SpawnExec
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultDeviceMode     = "0600"
	defaultOwner          = "root"
)

// Partition strategies.
const (
	StrategyStride      = "stride"
	StrategySharedQueue = "shared_queue"
)

// Worker isolation modes.
const (
	SpawnExec      = "exec"
	SpawnInProcess = "inprocess"
)

// Subsystem device name sources.
const (
	DevNameFromUevent  = "devname"
	DevNameFromDevPath = "devpath"
)

var defaultConfigPaths = []string{"/etc/ueventd.toml", "/ueventd.toml"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SysfsRoot:      defaultSysfsRoot,
			DevRoot:        defaultDevRoot,
			StateDir:       defaultStateDir,
			ColdbootMarker: defaultColdbootMarker,
			HistoryDB:      filepath.Join(defaultStateDir, "history.db"),
			ControlSocket:  filepath.Join(defaultStateDir, "ueventd.sock"),
		},
		ColdBoot: ColdBoot{
			Strategy:           defaultStrategy,
			Spawn:              defaultSpawn,
			RegenerateRoots:    []string{"class", "block", "devices"},
			RestoreconRoots:    []string{"."},
			CheckUniqueDevices: true,
		},
		Firmware: Firmware{
			Enabled: true,
			Dirs:    []string{"/etc/firmware", "/vendor/firmware", "/firmware/image", "/lib/firmware"},
		},
		SELinux: SELinux{
			Enabled: true,
		},
		Devices: []DevicePermission{
			{Path: "/dev/null", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/zero", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/full", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/ptmx", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/tty", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/random", Mode: "0666", User: defaultOwner, Group: defaultOwner},
			{Path: "/dev/urandom", Mode: "0666", User: defaultOwner, Group: defaultOwner},
		},
		Logging: Logging{
			Format:  defaultLogFormat,
			Level:   defaultLogLevel,
			Outputs: []string{"stderr"},
		},
	}
}

// DefaultConfigPath is where `config init` writes when no path is given.
func DefaultConfigPath() string {
	return defaultConfigPaths[0]
}
