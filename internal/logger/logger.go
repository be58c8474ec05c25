// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger provides the scheduler's structured logging surface:
// a thin Logger interface over log/slog, fanned out to multiple
// destinations with github.com/samber/slog-multi, with the reported
// source location always pointing at the caller rather than this
// package's own frames.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the scheduler's logging surface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

type logger struct {
	sl *slog.Logger
}

type options struct {
	debug       bool
	format      string
	writer      io.Writer
	quiet       bool
	logFilePath string
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location reporting.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithWriter adds an additional destination alongside stdout, unless
// WithQuiet is also given, in which case it replaces stdout entirely.
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithQuiet suppresses the stdout destination.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithLogFile appends a file destination, created if necessary.
func WithLogFile(path string) Option { return func(o *options) { o.logFilePath = path } }

// NewLogger builds a Logger from the given options. With no options it
// logs text at info level to stdout.
func NewLogger(opts ...Option) Logger {
	o := options{format: "text"}
	for _, opt := range opts {
		opt(&o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{AddSource: o.debug, Level: level}

	var handlers []slog.Handler
	if !o.quiet {
		handlers = append(handlers, newHandler(o.format, os.Stdout, hopts))
	}
	if o.writer != nil {
		handlers = append(handlers, newHandler(o.format, o.writer, hopts))
	}
	if o.logFilePath != "" {
		if f, err := os.OpenFile(o.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			handlers = append(handlers, newHandler(o.format, f, hopts))
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, hopts))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = slogmulti.Fanout(handlers...)
	}
	return &logger{sl: slog.New(h)}
}

func newHandler(format string, w io.Writer, hopts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

// logDepth emits a record with the program counter of the caller
// "depth" frames above logDepth itself, so wrapping this package never
// shows up as the reported source location.
func (l *logger) logDepth(ctx context.Context, level slog.Level, depth int, msg string, args ...any) {
	if !l.sl.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(depth, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.sl.Handler().Handle(ctx, r)
}

func (l *logger) Debug(msg string, args ...any) { l.logDepth(context.Background(), slog.LevelDebug, 3, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.logDepth(context.Background(), slog.LevelInfo, 3, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.logDepth(context.Background(), slog.LevelWarn, 3, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.logDepth(context.Background(), slog.LevelError, 3, msg, args...) }

func (l *logger) Debugf(format string, args ...any) {
	l.logDepth(context.Background(), slog.LevelDebug, 3, fmt.Sprintf(format, args...))
}
func (l *logger) Infof(format string, args ...any) {
	l.logDepth(context.Background(), slog.LevelInfo, 3, fmt.Sprintf(format, args...))
}
func (l *logger) Warnf(format string, args ...any) {
	l.logDepth(context.Background(), slog.LevelWarn, 3, fmt.Sprintf(format, args...))
}
func (l *logger) Errorf(format string, args ...any) {
	l.logDepth(context.Background(), slog.LevelError, 3, fmt.Sprintf(format, args...))
}

func (l *logger) With(args ...any) Logger {
	return &logger{sl: l.sl.With(args...)}
}

func (l *logger) WithGroup(name string) Logger {
	return &logger{sl: l.sl.WithGroup(name)}
}
