// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the TRACE/DEBUG/INFO/WARNING/ERROR/OFF severity
// levels used throughout the store stack, built on top of log/slog. Every
// component either takes an injected *slog.Logger from NewLogger or falls
// back to the package-level Tracef/Debugf/Infof/Warnf/Errorf helpers, which
// write through the process-wide default logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/internal/config"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Custom severities. slog's built-in levels (Debug=-4, Info=0, Warn=4,
// Error=8) don't leave room below Debug for Trace, so the whole ladder is
// redefined here with wider spacing and an Off level above Error that no
// real record can ever reach.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = -4
	LevelInfo  slog.Level = 0
	LevelWarn  slog.Level = 4
	LevelError slog.Level = 8
	LevelOff   slog.Level = 12
)

// asyncLogBufferSize is the number of pending log lines the file-backed
// writer will queue before it starts dropping them.
const asyncLogBufferSize = 1000

// loggerFactory holds the configuration the default logger was last built
// from, so it can be torn down and rebuilt when the format or level changes
// mid-process (e.g. on SIGHUP-triggered config reload).
type loggerFactory struct {
	// file is the open log file when logging to disk; nil when logging to
	// sysWriter instead.
	file *os.File
	// sysWriter is the writer used when no log file is configured (normally
	// os.Stderr); nil when file is set.
	sysWriter io.Writer

	format string
	level  string

	logRotateConfig config.LogRotateConfig
}

var (
	defaultLogger        *slog.Logger
	defaultLoggerFactory *loggerFactory
)

func init() {
	defaultLoggerFactory = &loggerFactory{
		sysWriter:       os.Stderr,
		format:          "text",
		level:           config.INFO,
		logRotateConfig: config.DefaultLogRotateConfig(),
	}
	rebuildDefaultLogger()
}

// writer returns the destination the default logger should write to,
// wrapping file output in an AsyncLogger so a slow or stalled disk can't
// block the fuse op that triggered the log line.
func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return NewAsyncLogger(&lumberjack.Logger{
			Filename:   f.file.Name(),
			MaxSize:    f.logRotateConfig.MaxFileSizeMB,
			MaxBackups: f.logRotateConfig.BackupFileCount,
			Compress:   f.logRotateConfig.Compress,
		}, asyncLogBufferSize)
	}
	if f.sysWriter != nil {
		return f.sysWriter
	}
	return os.Stderr
}

// createJsonOrTextHandler builds a slog.Handler that writes to buf at the
// factory's currently configured format ("text" produces the time=/severity=
// line format; anything else, including the empty string, produces one JSON
// object per line). prefix is prepended to every message, used by tests to
// tag log lines written to a shared buffer.
func (f *loggerFactory) createJsonOrTextHandler(buf io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{
		mu:     &sync.Mutex{},
		out:    buf,
		level:  programLevel,
		prefix: prefix,
		json:   f.format != "text",
	}
}

// severityHandler is a minimal slog.Handler that renders time, severity,
// and message, plus the attributes attached to the logger through WithAttrs
// (such as the subsystem name NewLogger adds). Key/value arguments passed
// with an individual log call are not rendered.
type severityHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  *slog.LevelVar
	prefix string
	json   bool
	attrs  []slog.Attr
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	severity := severityName(r.Level)
	message := h.prefix + r.Message

	var fields strings.Builder
	for _, a := range h.attrs {
		if h.json {
			fmt.Fprintf(&fields, ",%q:%q", a.Key, a.Value.String())
		} else {
			fmt.Fprintf(&fields, " %s=%v", a.Key, a.Value)
		}
	}

	var line string
	if h.json {
		line = fmt.Sprintf("{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q%s}\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, message, fields.String())
	} else {
		line = fmt.Sprintf("time=%q severity=%s message=%q%s\n",
			r.Time.Format("2006/01/02 15:04:05.000000"), severity, message, fields.String())
	}

	_, err := io.WriteString(h.out, line)
	return err
}

func (h *severityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

func (h *severityHandler) WithGroup(_ string) slog.Handler {
	return h
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// setLoggingLevel maps a severity string onto programLevel, defaulting to
// INFO for an unrecognized value.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case config.TRACE:
		programLevel.Set(LevelTrace)
	case config.DEBUG:
		programLevel.Set(LevelDebug)
	case config.INFO:
		programLevel.Set(LevelInfo)
	case config.WARNING:
		programLevel.Set(LevelWarn)
	case config.ERROR:
		programLevel.Set(LevelError)
	case config.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

func rebuildDefaultLogger() {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	handler := defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer(), programLevel, "")
	defaultLogger = slog.New(handler)
}

// InitLogFile points the default logger at a file on disk, rotated
// according to legacyLogConfig, at the format and severity from
// newLogConfig. An empty newLogConfig.FilePath leaves logging on the
// process's stderr.
func InitLogFile(legacyLogConfig config.LogConfig, newLogConfig cfg.LoggingConfig) error {
	factory := &loggerFactory{
		format:          newLogConfig.Format,
		level:           strings.ToUpper(newLogConfig.Severity),
		logRotateConfig: legacyLogConfig.LogRotateConfig,
	}

	if newLogConfig.FilePath != "" {
		f, err := os.OpenFile(string(newLogConfig.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", newLogConfig.FilePath, err)
		}
		factory.file = f
	} else {
		factory.sysWriter = os.Stderr
	}

	defaultLoggerFactory = factory
	rebuildDefaultLogger()
	return nil
}

// SetLogFormat changes the default logger's output format without touching
// its destination or severity. An empty format is treated as JSON.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	rebuildDefaultLogger()
}

// NewLogger returns a logger for a named subsystem (e.g. "blockstore",
// "caching"), tagging every line it writes with that name.
func NewLogger(subsystem string) *slog.Logger {
	return defaultLogger.With("subsystem", subsystem)
}

func Tracef(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, args...))
}
