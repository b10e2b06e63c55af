// Package logger builds zerolog loggers from the logging section of the
// configuration: console output, an optional rotating file, or both.
package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"neuromesh/internal/types"
)

// New creates a logger from the configuration. Components derive their own
// child loggers from it with With(). When file output is enabled the file is
// size-rotated and old segments are compressed.
func New(config types.LoggingConfig) (zerolog.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer

	if config.ConsoleOutput {
		var consoleWriter io.Writer = os.Stdout
		if config.Format == "text" {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				NoColor:    !config.ConsoleColor,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	if config.FileOutput {
		if config.FileName == "" {
			return zerolog.Nop(), fmt.Errorf("file_name is required when file_output is enabled")
		}

		maxSizeMB, err := ParseMaxSize(config.FileMaxSize)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid file_max_size: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename: config.FileName,
			MaxSize:  maxSizeMB, // megabytes
			Compress: true,      // compress rotated files
		})
	}

	if len(writers) == 0 {
		// If no output is configured, default to console
		writers = append(writers, os.Stdout)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	zlogger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return zlogger, nil
}

// ParseLevel converts a level name to a zerolog level. "warning" is accepted
// as an alias for "warn"; an empty name means info.
func ParseLevel(levelStr string) (zerolog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// ParseMaxSize converts a size string (e.g., "10MB") to megabytes. A bare
// number is taken as megabytes already.
func ParseMaxSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return 10, nil // default 10MB
	}

	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))
	sizeStr = strings.TrimSuffix(sizeStr, "MB")

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	if size <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", size)
	}
	return size, nil
}
