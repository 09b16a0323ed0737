package logger

import (
	"errors"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultAuditMaxSizeMB  = 100
	defaultAuditMaxBackups = 7
	defaultAuditMaxAgeDays = 30
)

// newAuditWriter returns a size-rotated writer for the audit stream. Backups
// are named by lumberjack with a timestamp suffix next to the active file.
func newAuditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Clean(cfg.Path),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  false,
	}
	if w.MaxSize <= 0 {
		w.MaxSize = defaultAuditMaxSizeMB
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = defaultAuditMaxBackups
	}
	if w.MaxAge <= 0 {
		w.MaxAge = defaultAuditMaxAgeDays
	}
	return w, nil
}
