package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateColdBoot(); err != nil {
		return err
	}
	if err := c.validateSELinux(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateColdBoot() error {
	if c.ColdBoot.Workers < 0 {
		return fmt.Errorf("%w: coldboot.workers must be >= 0", ErrInvalid)
	}
	switch c.ColdBoot.Strategy {
	case StrategyStride, StrategySharedQueue:
	default:
		return fmt.Errorf("%w: coldboot.strategy must be %q or %q, got %q", ErrInvalid, StrategyStride, StrategySharedQueue, c.ColdBoot.Strategy)
	}
	switch c.ColdBoot.Spawn {
	case SpawnExec, SpawnInProcess:
	default:
		return fmt.Errorf("%w: coldboot.spawn must be %q or %q, got %q", ErrInvalid, SpawnExec, SpawnInProcess, c.ColdBoot.Spawn)
	}
	if len(c.ColdBoot.RegenerateRoots) == 0 {
		return fmt.Errorf("%w: coldboot.regenerate_roots must list at least one sysfs directory", ErrInvalid)
	}
	return nil
}

func (c *Config) validateSELinux() error {
	for i, fc := range c.SELinux.Contexts {
		if strings.TrimSpace(fc.Context) == "" {
			return fmt.Errorf("%w: selinux.contexts[%d].context must be set", ErrInvalid, i)
		}
		if _, err := regexp.Compile(anchor(fc.Pattern)); err != nil {
			return fmt.Errorf("%w: selinux.contexts[%d].pattern: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

func (c *Config) validateRules() error {
	for i, rule := range c.Devices {
		if !strings.HasPrefix(rule.Path, "/") {
			return fmt.Errorf("%w: devices[%d].path must be absolute, got %q", ErrInvalid, i, rule.Path)
		}
		if _, err := ParseMode(rule.Mode); err != nil {
			return fmt.Errorf("%w: devices[%d].mode: %v", ErrInvalid, i, err)
		}
	}
	for i, rule := range c.Sysfs {
		if !strings.HasPrefix(rule.Path, "/") {
			return fmt.Errorf("%w: sysfs[%d].path must be absolute, got %q", ErrInvalid, i, rule.Path)
		}
		if rule.Attr == "" || strings.Contains(rule.Attr, "/") {
			return fmt.Errorf("%w: sysfs[%d].attr must be a plain attribute name, got %q", ErrInvalid, i, rule.Attr)
		}
		if _, err := ParseMode(rule.Mode); err != nil {
			return fmt.Errorf("%w: sysfs[%d].mode: %v", ErrInvalid, i, err)
		}
	}
	for i, sub := range c.Subsystems {
		if sub.Name == "" {
			return fmt.Errorf("%w: subsystems[%d].name must be set", ErrInvalid, i)
		}
		if sub.DevName != DevNameFromUevent && sub.DevName != DevNameFromDevPath {
			return fmt.Errorf("%w: subsystems[%d].devname must be %q or %q", ErrInvalid, i, DevNameFromUevent, DevNameFromDevPath)
		}
	}
	return nil
}

// ParseMode parses an octal permission string such as "0660".
func ParseMode(value string) (os.FileMode, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse mode %q: %w", value, err)
	}
	if parsed > 0o7777 {
		return 0, fmt.Errorf("mode %q out of range", value)
	}
	mode := os.FileMode(parsed & 0o777)
	if parsed&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if parsed&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if parsed&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode, nil
}

// CompileContexts compiles every file context pattern, anchored at both ends.
func CompileContexts(contexts []FileContext) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(contexts))
	for _, fc := range contexts {
		re, err := regexp.Compile(anchor(fc.Pattern))
		if err != nil {
			return nil, fmt.Errorf("compile context pattern %q: %w", fc.Pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}
