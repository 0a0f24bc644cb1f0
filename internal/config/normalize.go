package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the settings an init script can override without editing
// the config file. Unset variables leave the pointer nil.
type envOverrides struct {
	Workers        *int    `envconfig:"COLDBOOT_WORKERS"`
	Strategy       *string `envconfig:"COLDBOOT_STRATEGY"`
	Spawn          *string `envconfig:"COLDBOOT_SPAWN"`
	ColdbootMarker *string `envconfig:"COLDBOOT_MARKER"`
	SysfsRoot      *string `envconfig:"SYSFS_ROOT"`
	DevRoot        *string `envconfig:"DEV_ROOT"`
	StateDir       *string `envconfig:"STATE_DIR"`
	LogLevel       *string `envconfig:"LOG_LEVEL"`
	LogFormat      *string `envconfig:"LOG_FORMAT"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("ueventd", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if env.Workers != nil {
		c.ColdBoot.Workers = *env.Workers
	}
	setString(&c.ColdBoot.Strategy, env.Strategy)
	setString(&c.ColdBoot.Spawn, env.Spawn)
	setString(&c.Paths.ColdbootMarker, env.ColdbootMarker)
	setString(&c.Paths.SysfsRoot, env.SysfsRoot)
	setString(&c.Paths.DevRoot, env.DevRoot)
	setString(&c.Paths.StateDir, env.StateDir)
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Logging.Format, env.LogFormat)
	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeColdBoot()
	c.normalizeRules()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.sysfs_root", &c.Paths.SysfsRoot},
		{"paths.dev_root", &c.Paths.DevRoot},
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.coldboot_marker", &c.Paths.ColdbootMarker},
	}
	for _, field := range fields {
		abs, err := cleanAbs(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = abs
	}

	if strings.TrimSpace(c.Paths.HistoryDB) == "" || c.Paths.HistoryDB == filepath.Join(defaultStateDir, "history.db") {
		c.Paths.HistoryDB = filepath.Join(c.Paths.StateDir, "history.db")
	}
	if strings.TrimSpace(c.Paths.ControlSocket) == "" || c.Paths.ControlSocket == filepath.Join(defaultStateDir, "ueventd.sock") {
		c.Paths.ControlSocket = filepath.Join(c.Paths.StateDir, "ueventd.sock")
	}
	var err error
	if c.Paths.HistoryDB, err = cleanAbs(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	if c.Paths.ControlSocket, err = cleanAbs(c.Paths.ControlSocket); err != nil {
		return fmt.Errorf("paths.control_socket: %w", err)
	}
	if strings.TrimSpace(c.Metrics.Textfile) != "" {
		if c.Metrics.Textfile, err = cleanAbs(c.Metrics.Textfile); err != nil {
			return fmt.Errorf("metrics.textfile: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeColdBoot() {
	c.ColdBoot.Strategy = strings.ToLower(strings.TrimSpace(c.ColdBoot.Strategy))
	if c.ColdBoot.Strategy == "" {
		c.ColdBoot.Strategy = defaultStrategy
	}
	c.ColdBoot.Spawn = strings.ToLower(strings.TrimSpace(c.ColdBoot.Spawn))
	if c.ColdBoot.Spawn == "" {
		c.ColdBoot.Spawn = defaultSpawn
	}
	c.ColdBoot.RegenerateRoots = trimList(c.ColdBoot.RegenerateRoots)
	c.ColdBoot.RestoreconRoots = trimList(c.ColdBoot.RestoreconRoots)
	c.Firmware.Dirs = trimList(c.Firmware.Dirs)
}

func (c *Config) normalizeRules() {
	for i := range c.Devices {
		rule := &c.Devices[i]
		rule.Path = strings.TrimSpace(rule.Path)
		rule.Mode = defaultIfEmpty(rule.Mode, defaultDeviceMode)
		rule.User = defaultIfEmpty(rule.User, defaultOwner)
		rule.Group = defaultIfEmpty(rule.Group, defaultOwner)
	}
	for i := range c.Sysfs {
		rule := &c.Sysfs[i]
		rule.Path = strings.TrimSpace(rule.Path)
		rule.Attr = strings.TrimSpace(rule.Attr)
		rule.Mode = defaultIfEmpty(rule.Mode, defaultDeviceMode)
		rule.User = defaultIfEmpty(rule.User, defaultOwner)
		rule.Group = defaultIfEmpty(rule.Group, defaultOwner)
	}
	for i := range c.Subsystems {
		sub := &c.Subsystems[i]
		sub.Name = strings.TrimSpace(sub.Name)
		sub.DevName = strings.ToLower(defaultIfEmpty(sub.DevName, DevNameFromUevent))
		sub.Dir = defaultIfEmpty(sub.Dir, c.Paths.DevRoot)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(defaultIfEmpty(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(defaultIfEmpty(c.Logging.Level, defaultLogLevel))
	c.Logging.Outputs = trimList(c.Logging.Outputs)
}

func cleanAbs(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("path must be set")
	}
	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", trimmed, err)
	}
	return abs, nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultIfEmpty(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
