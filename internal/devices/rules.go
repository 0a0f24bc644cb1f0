package devices

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ueventd/internal/config"
)

const (
	defaultNodeMode = 0o600
	sysPrefix       = "/sys"
	devPrefix       = "/dev"
)

// permission is a resolved mode/owner triple for paths matching pattern.
type permission struct {
	pattern string
	attr    string
	mode    os.FileMode
	uid     int
	gid     int
}

func (p permission) matches(path string) bool {
	ok, err := doublestar.Match(p.pattern, path)
	return err == nil && ok
}

// lookupPermission returns the last rule matching path.
func lookupPermission(rules []permission, path string) (permission, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].matches(path) {
			return rules[i], true
		}
	}
	return permission{}, false
}

func compileDeviceRules(rules []config.DevicePermission) ([]permission, error) {
	out := make([]permission, 0, len(rules))
	for _, rule := range rules {
		perm, err := resolvePermission(rule.Path, rule.Mode, rule.User, rule.Group)
		if err != nil {
			return nil, fmt.Errorf("device rule %s: %w", rule.Path, err)
		}
		out = append(out, perm)
	}
	return out, nil
}

func compileSysfsRules(rules []config.SysfsPermission) ([]permission, error) {
	out := make([]permission, 0, len(rules))
	for _, rule := range rules {
		perm, err := resolvePermission(rule.Path, rule.Mode, rule.User, rule.Group)
		if err != nil {
			return nil, fmt.Errorf("sysfs rule %s: %w", rule.Path, err)
		}
		perm.attr = rule.Attr
		out = append(out, perm)
	}
	return out, nil
}

func resolvePermission(pattern, mode, owner, group string) (permission, error) {
	if !doublestar.ValidatePattern(pattern) {
		return permission{}, fmt.Errorf("invalid pattern %q", pattern)
	}
	perm, err := config.ParseMode(mode)
	if err != nil {
		return permission{}, err
	}
	uid, err := lookupUID(owner)
	if err != nil {
		return permission{}, err
	}
	gid, err := lookupGID(group)
	if err != nil {
		return permission{}, err
	}
	return permission{pattern: pattern, mode: perm, uid: uid, gid: gid}, nil
}

func lookupUID(name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "root" {
		return 0, nil
	}
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", name, err)
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "root" {
		return 0, nil
	}
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup group %q: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}
