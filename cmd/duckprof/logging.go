package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLevel maps a configured level to zerolog, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// setupLogging builds the process logger. The level is applied globally so
// that a config reload can change it without rebuilding loggers. The returned
// closer flushes the rotating log file, if any.
func setupLogging(level string, file config.LogFileConfig, out io.Writer) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel := parseLevel(level)
	zerolog.SetGlobalLevel(logLevel)

	var (
		w      = out
		closer io.Closer = nopCloser{}
	)
	if file.Enabled() {
		rotating := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
		w = zerolog.MultiLevelWriter(out, rotating)
		closer = rotating
	}

	logCtx := zerolog.New(w).
		With().
		Timestamp().
		Str("service", "duckprof")

	if logLevel == zerolog.DebugLevel {
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			return fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
		logCtx = logCtx.Caller()
	}

	return logCtx.Logger(), closer
}
