// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for the agent core service.
//
// It is a thin layer over log/slog: services construct one Logger at startup,
// install it as the process default, and pass slog attributes everywhere
// else. An optional exporter hook mirrors every record to a secondary sink,
// which tests use to assert on emitted logs.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the output encoding.
type Format string

const (
	// FormatJSON emits one JSON object per record. The production default.
	FormatJSON Format = "json"

	// FormatText emits human-readable key=value records.
	FormatText Format = "text"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Empty means info.
	Level string

	// Format selects JSON or text output. Empty means JSON.
	Format Format

	// Output is the destination writer. Nil means os.Stdout.
	Output io.Writer

	// Exporter, when set, receives a copy of every record at or above
	// Level.
	Exporter Exporter
}

// Exporter receives structured log entries alongside the primary output.
type Exporter interface {
	Export(ctx context.Context, entry Entry) error
}

// Entry is one exported log record.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Logger wraps an slog.Logger built from a Config.
type Logger struct {
	slogger *slog.Logger
}

// New constructs a Logger.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	if config.Exporter != nil {
		handler = &teeHandler{primary: handler, exporter: config.Exporter}
	}

	return &Logger{slogger: slog.New(handler)}
}

// Default returns a JSON logger at info level writing to stdout.
func Default() *Logger {
	return New(Config{})
}

// Install sets this logger as the process-wide slog default.
func (l *Logger) Install() {
	slog.SetDefault(l.slogger)
}

// Slog exposes the underlying slog.Logger for libraries that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// With returns a logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler forwards records to the primary handler and the exporter.
type teeHandler struct {
	primary  slog.Handler
	exporter Exporter
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	// Exporter failures never block the primary log path.
	_ = h.exporter.Export(ctx, Entry{Level: r.Level, Message: r.Message, Attrs: attrs})
	return h.primary.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), exporter: h.exporter}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), exporter: h.exporter}
}

// BufferedExporter collects entries in memory. Tests use it to assert on the
// service's log output.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []Entry
}

// NewBufferedExporter creates an empty buffer.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

// Export implements Exporter.
func (e *BufferedExporter) Export(_ context.Context, entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

var _ Exporter = (*BufferedExporter)(nil)
