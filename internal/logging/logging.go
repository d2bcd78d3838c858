// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the [slog.Logger] used across hymomount: a
// terminal-aware console handler plus a file handler that writes the
// fixed "[YYYY-MM-DD HH:MM:SS] [LEVEL] message" line format to daemon.log.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// New returns a logger that writes human-readable text to stderr when
// stderr is a terminal, JSON otherwise, at debug level when verbose is
// true. If logFile is non-nil, every record is additionally appended to
// it in the daemon.log line format.
func New(verbose bool, logFile *os.File) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var console slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		console = slog.NewTextHandler(os.Stderr, opts)
	} else {
		console = slog.NewJSONHandler(os.Stderr, opts)
	}

	if logFile == nil {
		return slog.New(console)
	}
	return slog.New(multiHandler{
		console: console,
		daemon:  &daemonHandler{out: logFile, level: level},
	})
}

// multiHandler fans out every record to the console handler and the
// daemon.log handler.
type multiHandler struct {
	console slog.Handler
	daemon  *daemonHandler
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return m.console.Enabled(ctx, level) || m.daemon.Enabled(ctx, level)
}

func (m multiHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := m.console.Handle(ctx, record); err != nil {
		return err
	}
	return m.daemon.Handle(ctx, record)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return multiHandler{console: m.console.WithAttrs(attrs), daemon: m.daemon.withAttrs(attrs)}
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	return multiHandler{console: m.console.WithGroup(name), daemon: m.daemon.withGroup(name)}
}

// daemonHandler renders "[YYYY-MM-DD HH:MM:SS] [LEVEL] message" lines,
// the text log format spec §6 fixes for daemon.log. No handler in the
// example pack already produces this exact layout.
type daemonHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

func (d *daemonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= d.level
}

func (d *daemonHandler) Handle(_ context.Context, record slog.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", record.Time.Format("2006-01-02 15:04:05"), record.Level.String(), record.Message)
	for _, attr := range d.attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(d.out, b.String())
	return err
}

func (d *daemonHandler) withAttrs(attrs []slog.Attr) *daemonHandler {
	return &daemonHandler{out: d.out, level: d.level, attrs: append(append([]slog.Attr{}, d.attrs...), attrs...), group: d.group}
}

func (d *daemonHandler) withGroup(name string) *daemonHandler {
	return &daemonHandler{out: d.out, level: d.level, attrs: d.attrs, group: name}
}

func (d *daemonHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return d.withAttrs(attrs) }
func (d *daemonHandler) WithGroup(name string) slog.Handler       { return d.withGroup(name) }
