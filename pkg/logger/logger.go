// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the kernel's log/slog default logger: a
// terminal-aware text handler (colored when attached to a TTY, plain
// otherwise) wrapped in a filter that suppresses third-party library
// chatter below debug, so a running kernel's own turn/tool/policy logs
// aren't drowned out by whatever the configured AIProvider or transport
// dependency logs internally.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger *slog.Logger

// kernelPackagePrefix identifies this module's own frames for the
// third-party log filter below.
const kernelPackagePrefix = "github.com/kadirpekel/agentkernel"

// ParseLevel converts a level name (debug, info, warn/warning, error) to a
// slog.Level. An unrecognized name falls back to warn rather than erroring,
// since a bad --log-level flag shouldn't prevent the kernel from starting.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler wraps a slog.Handler and drops records emitted from
// outside the kernel module once the configured level is above debug. At
// debug everything passes through unfiltered, kernel and dependency alike.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	// Caller package isn't known until Handle sees the record's PC, so
	// Enabled stays permissive and the real filtering happens in Handle.
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.fromKernel(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// fromKernel reports whether pc, a log record's program counter, resolves
// to a frame inside this module.
func (h *filteringHandler) fromKernel(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	fullName := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(fullName, kernelPackagePrefix) || strings.Contains(file, "agentkernel/")
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func normalizeLevelName(level slog.Level) string {
	name := strings.ToUpper(level.String())
	if name == "WARNING" {
		name = "WARN"
	}
	return name
}

// writeRecord formats record into buf as "LEVEL message k=v k=v", optionally
// prefixed with a timestamp and colorized, and shared by coloredTextHandler
// and simpleTextHandler so the two only differ in timestamp/color policy.
func writeRecord(buf *strings.Builder, record slog.Record, colorCode string, withTime bool) {
	if withTime && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	if colorCode != "" {
		buf.WriteString(colorCode)
		buf.WriteString(normalizeLevelName(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(normalizeLevelName(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)
	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")
}

// coloredTextHandler renders records as colored plain text for a terminal.
// simple drops the timestamp, matching coloredTextHandler's "simple" format.
type coloredTextHandler struct {
	handler slog.Handler
	writer  io.Writer
	simple  bool
}

func (h *coloredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *coloredTextHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder
	writeRecord(&buf, record, levelColor(record.Level), !h.simple)
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredTextHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer, simple: h.simple}
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	return &coloredTextHandler{handler: h.handler.WithGroup(name), writer: h.writer, simple: h.simple}
}

// simpleTextHandler renders level + message + attributes with no timestamp
// or color, for non-terminal output (log files, piped stdout).
type simpleTextHandler struct {
	handler slog.Handler
	writer  io.Writer
}

func (h *simpleTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *simpleTextHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder
	writeRecord(&buf, record, "", false)
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *simpleTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &simpleTextHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer}
}

func (h *simpleTextHandler) WithGroup(name string) slog.Handler {
	return &simpleTextHandler{handler: h.handler.WithGroup(name), writer: h.writer}
}

// Init installs the default slog logger: terminal output gets a colored
// handler, non-terminal output a plain one, both wrapped in the
// third-party filter. format selects "simple" (level + message, the
// default), "verbose" (adds a timestamp), or anything else to fall back to
// slog's standard text encoding.
func Init(level slog.Level, output *os.File, format string) {
	colorized := isTerminal(output)
	simple := format == "simple" || format == ""
	verbose := format == "verbose"

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}
	baseHandler := slog.NewTextHandler(output, opts)

	var handler slog.Handler = baseHandler
	switch {
	case colorized && (simple || verbose):
		handler = &coloredTextHandler{handler: baseHandler, writer: output, simple: simple}
	case !colorized && simple:
		handler = &simpleTextHandler{handler: baseHandler, writer: output}
	}

	defaultLogger = slog.New(&filteringHandler{handler: handler, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens path for appending, creating it if needed, and returns
// a cleanup closing it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the default logger, initializing it at info/simple on
// first use so packages that log before main calls Init still work.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
