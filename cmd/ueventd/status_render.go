package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// health grades one line of status output.
type health int

const (
	healthInfo health = iota
	healthOK
	healthWarn
	healthError
)

var healthTags = map[health]string{
	healthInfo:  "INFO",
	healthOK:    "OK",
	healthWarn:  "WARN",
	healthError: "ERROR",
}

var healthColors = map[health]text.Colors{
	healthInfo:  {text.FgBlue},
	healthOK:    {text.FgGreen},
	healthWarn:  {text.FgYellow},
	healthError: {text.FgRed, text.Bold},
}

const statusLabelWidth = 18

// renderStatusLine formats "  Label:   [TAG] message", colored as a whole
// when colorize is set.
func renderStatusLine(label string, h health, message string, colorize bool) string {
	if _, ok := healthTags[h]; !ok {
		h = healthInfo
	}
	line := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", healthTags[h])
	if message != "" {
		line += " " + message
	}
	if colorize {
		return healthColors[h].Sprint(line)
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	if colorize {
		style := text.Colors{text.FgBlue, text.Bold}
		return []string{style.Sprint(heading), style.Sprint(rule)}
	}
	return []string{heading, rule}
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
