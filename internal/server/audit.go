// Package server writes the append-only audit trail: one structured line per
// login, logout, disconnect, and executed command.
package server

import (
	"log/slog"
	"os"
)

// auditLog wraps a slog logger pointed at the configured append-only sink.
// A nil auditLog is valid and drops every event, so components can carry the
// handle without caring whether auditing is wired up.
type auditLog struct {
	logger *slog.Logger
	file   *os.File
}

// newAuditLog opens the audit sink. A non-empty path gets JSON lines appended
// to that file; an empty path falls back to text lines on stderr so events
// stay visible during development.
func newAuditLog(path string) (*auditLog, error) {
	if path == "" {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
		return &auditLog{logger: slog.New(handler)}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &auditLog{logger: slog.New(handler), file: file}, nil
}

// event records one audit line. Arguments follow slog's alternating
// key/value convention.
func (a *auditLog) event(event string, args ...any) {
	if a == nil || a.logger == nil {
		return
	}
	a.logger.Info(event, args...)
}

// Close releases the underlying file, if any.
func (a *auditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}
