// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type ctxKey struct{}

var defaultLogger = NewLogger()

// WithLogger attaches l to ctx, for retrieval by FromContext.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or a default
// stdout text logger if none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

func fromCtx(ctx context.Context) *logger {
	l := FromContext(ctx)
	if impl, ok := l.(*logger); ok {
		return impl
	}
	return defaultLogger.(*logger)
}

// Debug logs at debug level using the Logger attached to ctx.
func Debug(ctx context.Context, msg string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelDebug, 3, msg, args...)
}

// Info logs at info level using the Logger attached to ctx.
func Info(ctx context.Context, msg string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelInfo, 3, msg, args...)
}

// Warn logs at warn level using the Logger attached to ctx.
func Warn(ctx context.Context, msg string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelWarn, 3, msg, args...)
}

// Error logs at error level using the Logger attached to ctx.
func Error(ctx context.Context, msg string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelError, 3, msg, args...)
}

// Debugf formats and logs at debug level using the Logger attached to ctx.
func Debugf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelDebug, 3, fmt.Sprintf(format, args...))
}

// Infof formats and logs at info level using the Logger attached to ctx.
func Infof(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelInfo, 3, fmt.Sprintf(format, args...))
}

// Warnf formats and logs at warn level using the Logger attached to ctx.
func Warnf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelWarn, 3, fmt.Sprintf(format, args...))
}

// Errorf formats and logs at error level using the Logger attached to ctx.
func Errorf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).logDepth(ctx, slog.LevelError, 3, fmt.Sprintf(format, args...))
}
