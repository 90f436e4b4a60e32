package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"

	"quill/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiGreen = "\x1b[32m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var statusStyles = [...]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

func (k statusKind) label() string {
	if k < 0 || int(k) >= len(statusStyles) {
		return statusStyles[statusInfo].label
	}
	return statusStyles[k].label
}

func (k statusKind) paint(s string, colorize bool) string {
	if !colorize || k < 0 || int(k) >= len(statusStyles) {
		return s
	}
	return statusStyles[k].color + s + ansiReset
}

// renderStatusLine formats "  Label:   [KIND] message" with the label padded
// to a fixed column.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "[" + kind.label() + "]"
	if message != "" {
		tag += " " + message
	}
	return kind.paint(fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag), colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	title = strings.TrimSpace(title)
	rule := strings.Repeat("─", utf8.RuneCountInString(title))
	if colorize {
		title = ansiBold + title + ansiReset
	}
	return []string{title, rule}
}

// preflightLines renders check results under a summary line. Optional
// failures render as warnings.
func preflightLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 1, len(results)+1)
	var failed, warned int
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			if r.Optional {
				kind = statusWarn
				warned++
			} else {
				kind = statusError
				failed++
			}
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}

	switch {
	case failed > 0:
		lines[0] = renderStatusLine("Summary", statusError, fmt.Sprintf("%d required, %d optional failing", failed, warned), colorize)
	case warned > 0:
		lines[0] = renderStatusLine("Summary", statusWarn, fmt.Sprintf("%d optional failing", warned), colorize)
	default:
		lines[0] = renderStatusLine("Summary", statusOK, fmt.Sprintf("%d checks passed", len(results)), colorize)
	}
	return lines
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
