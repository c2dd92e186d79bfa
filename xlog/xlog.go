// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package xlog is the structured leveled logger every other package in
// this module logs through. It is modeled on go-ethereum's log package
// (log/logger_test.go, log/handler_test.go, log/root_test.go): a
// slog-backed Logger/Handler split, a process-wide root logger reachable
// via Root()/SetDefault(), and a colorized terminal handler for
// interactive use.
package xlog

import (
	"context"
	"log/slog"
)

// Level mirrors go-ethereum's six-level scheme: slog's four levels plus
// Trace below Debug and Crit above Error.
type Level = slog.Level

const (
	LevelTrace Level = slog.Level(-8)
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelCrit  Level = slog.Level(12)
)

// Logger is the interface every component in this module takes a
// dependency on, rather than *slog.Logger directly, so tests can supply a
// recording fake.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

// New wraps an *slog.Logger built from h, with the given initial context
// pairs attached. This is pure engine-internal observability and carries
// no wire format of its own.
func New(h slog.Handler, ctx ...any) Logger {
	return &logger{inner: slog.New(h).With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...any) { l.inner.Log(context.Background(), LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }
func (l *logger) Crit(msg string, ctx ...any)  { l.inner.Log(context.Background(), LevelCrit, msg, ctx...) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

var root Logger = New(NewTerminalHandler(nil, false))

// Root returns the process-wide default Logger.
func Root() Logger { return root }

// SetDefault replaces the process-wide default Logger, mirroring the
// teacher's log.SetDefault/log.Root() pair.
func SetDefault(l Logger) { root = l }
