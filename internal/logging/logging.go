// Package logging sets up the rotating-file log sink used across the
// process. The logger itself is a plain stdlib *log.Logger, matching how
// the rest of the retrieved corpus logs; only the underlying writer is a
// third-party rotation implementation.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB  = 1
	maxBackups = 2
)

// New opens (creating if needed) /tmp/xdlogs/<procName>.log as a rotating
// sink (1 MiB per file, 2 backups kept) and returns a *log.Logger that
// writes to it and, for operator visibility, to stderr.
func New(procName string) (*log.Logger, error) {
	dir := "/tmp/xdlogs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	rotate := &lumberjack.Logger{
		Filename:   filepath.Join(dir, procName+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}

	w := io.MultiWriter(rotate, os.Stderr)
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds), nil
}
