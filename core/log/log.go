// Package log provides the logging backend shared by every MemCloud
// component. It wraps gopkg.in/op/go-logging.v1 with the file-or-stderr,
// leveled-backend setup used throughout this tree.
package log

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

var logFormat = logging.MustStringFormatter(
	"%{time:15:04:05.000} %{level:.4s} %{module}: %{message}",
)

// Backend is a shared logging backend that hands out per-module loggers.
type Backend struct {
	backend logging.LeveledBackend
	out     io.Writer
	file    *os.File
}

// New constructs a Backend writing to path (or stderr if path is empty),
// at the given level ("DEBUG", "INFO", "NOTICE", "WARNING", "ERROR",
// "CRITICAL"). When force is true, debug-level logging is enabled
// regardless of level.
func New(path string, level string, force bool) (*Backend, error) {
	var out io.Writer
	var f *os.File
	if path == "" {
		out = os.Stderr
	} else {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("log: open %s: %w", path, err)
		}
		out = f
	}

	lvl := level
	if force {
		lvl = "DEBUG"
	}
	parsed, err := logging.LogLevel(lvl)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}

	base := logging.NewLogBackend(out, "", 0)
	formatted := logging.NewBackendFormatter(base, logFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(parsed, "")

	return &Backend{backend: leveled, out: out, file: f}, nil
}

// GetLogger returns a logger scoped to module, all sharing this backend's
// destination and level.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// Close releases the underlying log file, if one was opened.
func (b *Backend) Close() error {
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
