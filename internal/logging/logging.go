// Package logging configures the structured logger shared by the command
// binaries. Level and prefix come from the environment so batch runs can be
// made verbose without flag plumbing.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w. SYMTRACE_LOG_LEVEL selects
// debug/info/warn/error (default info); SYMTRACE_LOG_PREFIX overrides the
// message prefix.
func New(w io.Writer) *log.Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
	})

	switch os.Getenv("SYMTRACE_LOG_LEVEL") {
	case "debug":
		lg.SetLevel(log.DebugLevel)
	case "warn":
		lg.SetLevel(log.WarnLevel)
	case "error":
		lg.SetLevel(log.ErrorLevel)
	default:
		lg.SetLevel(log.InfoLevel)
	}

	prefix := os.Getenv("SYMTRACE_LOG_PREFIX")
	if prefix == "" {
		prefix = "symtrace"
	}
	return lg.WithPrefix(prefix)
}

// Default is the stderr logger used by the commands.
func Default() *log.Logger {
	return New(os.Stderr)
}
