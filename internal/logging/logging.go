// Package logging provides levelled, category-tagged logging for appmenu.
//
// Messages go through the standard library logger so that applications
// embedding appmenu can redirect them with [log.SetOutput] or [SetOutput].
// Debug messages are dropped unless [EnableDebug] was called.
package logging

import (
	"io"
	"log"
	"sync/atomic"

	"github.com/fatih/color"
)

// Category groups related log messages.
type Category string

const (
	CatRegistrar Category = "registrar"
	CatWayland   Category = "wayland"
	CatX11       Category = "x11"
	CatSelector  Category = "selector"
	CatMenu      Category = "menu"
	CatConfig    Category = "config"
)

var (
	debugEnabled atomic.Bool

	colorDebug   = color.New(color.FgCyan).SprintFunc()
	colorInfo    = color.New(color.FgGreen).SprintFunc()
	colorWarning = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed, color.Bold).SprintFunc()
	colorCat     = color.New(color.FgMagenta).SprintFunc()
)

// EnableDebug turns on debug logging.
func EnableDebug() {
	debugEnabled.Store(true)
}

// DisableDebug turns off debug logging.
func DisableDebug() {
	debugEnabled.Store(false)
}

// DebugEnabled reports whether debug logging is active.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetOutput redirects log output. Colours are disabled, since the writer is
// most likely not a terminal.
func SetOutput(w io.Writer) {
	color.NoColor = true
	log.SetOutput(w)
}

// Debugf emits a debug message when debugging is enabled.
func Debugf(cat Category, format string, args ...any) {
	if !DebugEnabled() {
		return
	}
	emit(colorDebug("[DEBUG]"), cat, format, args...)
}

// Infof emits an informational message.
func Infof(cat Category, format string, args ...any) {
	emit(colorInfo("[INFO]"), cat, format, args...)
}

// Warnf emits a warning.
func Warnf(cat Category, format string, args ...any) {
	emit(colorWarning("[WARNING]"), cat, format, args...)
}

// Errorf emits an error message.
func Errorf(cat Category, format string, args ...any) {
	emit(colorError("[ERROR]"), cat, format, args...)
}

func emit(level string, cat Category, format string, args ...any) {
	log.Printf(level+" "+colorCat("["+string(cat)+"]")+" "+format, args...)
}
