package uevent

import (
	"maps"
	"path"
	"strconv"
	"strings"

	"github.com/pilebones/go-udev/netlink"
)

// Action is the kernel action that produced an event.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionChange  Action = "change"
	ActionMove    Action = "move"
	ActionOnline  Action = "online"
	ActionOffline Action = "offline"
	ActionBind    Action = "bind"
	ActionUnbind  Action = "unbind"
)

// Event describes one kernel device event. Values are built once by New or
// FromNetlink and never modified afterwards; Env is a private copy.
type Event struct {
	Action        Action            `json:"action"`
	DevPath       string            `json:"devpath"`
	Subsystem     string            `json:"subsystem,omitempty"`
	DevName       string            `json:"devname,omitempty"`
	Major         int               `json:"major"`
	Minor         int               `json:"minor"`
	PartitionName string            `json:"partname,omitempty"`
	PartitionNum  int               `json:"partn"`
	Firmware      string            `json:"firmware,omitempty"`
	Modalias      string            `json:"modalias,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// New builds an Event from an action, devpath and the kernel key/value
// environment.
func New(action Action, devpath string, env map[string]string) Event {
	env = maps.Clone(env)
	if env == nil {
		env = map[string]string{}
	}
	if devpath == "" {
		devpath = env["DEVPATH"]
	}
	if action == "" {
		action = Action(strings.ToLower(env["ACTION"]))
	}
	return Event{
		Action:        action,
		DevPath:       devpath,
		Subsystem:     env["SUBSYSTEM"],
		DevName:       env["DEVNAME"],
		Major:         intOr(env["MAJOR"], -1),
		Minor:         intOr(env["MINOR"], -1),
		PartitionName: env["PARTNAME"],
		PartitionNum:  intOr(env["PARTN"], -1),
		Firmware:      env["FIRMWARE"],
		Modalias:      env["MODALIAS"],
		Env:           env,
	}
}

// FromNetlink converts a decoded netlink uevent.
func FromNetlink(ev netlink.UEvent) Event {
	devpath := ev.Env["DEVPATH"]
	if devpath == "" {
		devpath = ev.KObj
	}
	return New(Action(strings.ToLower(string(ev.Action))), devpath, ev.Env)
}

// HasDevNode reports whether the event carries a major/minor pair and so
// describes a device node.
func (e Event) HasDevNode() bool {
	return e.Major >= 0 && e.Minor >= 0
}

// IsBlock reports whether the event belongs to the block subsystem.
func (e Event) IsBlock() bool {
	return e.Subsystem == "block"
}

// BaseName is the last element of the devpath.
func (e Event) BaseName() string {
	if e.DevPath == "" {
		return ""
	}
	return path.Base(e.DevPath)
}

// Value returns one raw key from the kernel environment.
func (e Event) Value(key string) string {
	return e.Env[key]
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(string(e.Action))
	b.WriteByte(' ')
	b.WriteString(e.DevPath)
	if e.Subsystem != "" {
		b.WriteString(" subsystem=")
		b.WriteString(e.Subsystem)
	}
	if e.HasDevNode() {
		b.WriteString(" dev=")
		b.WriteString(strconv.Itoa(e.Major))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.Minor))
	}
	return b.String()
}

func intOr(value string, fallback int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
