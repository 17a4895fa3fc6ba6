// Copyright 2025 UMH Systems GmbH
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

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel string

// LogFormat represents the logging format.
type LogFormat string

const (
	// DebugLevel logs debug level messages.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel logs informational messages.
	InfoLevel LogLevel = "INFO"
	// WarnLevel logs warning messages.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel logs error messages.
	ErrorLevel LogLevel = "ERROR"
	// ProductionLevel is an alias for InfoLevel, used for easier configuration.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole indicates human-readable console format.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON indicates structured JSON format.
	FormatJSON LogFormat = "JSON"
	// FormatPretty indicates the "[time] [LEVEL] [component] message" format.
	FormatPretty LogFormat = "PRETTY"

	// DefaultLogFileName is created next to the executable when file logging is enabled.
	DefaultLogFileName = "screenswitch.log"
)

// Options controls how New builds a logger.
type Options struct {
	Level  LogLevel
	Format LogFormat
	// FilePath, if set, receives a copy of every log line (append mode).
	FilePath string
}

// getLogLevel converts a string log level to zapcore.Level.
func getLogLevel(level LogLevel) zapcore.Level {
	switch strings.ToUpper(string(level)) {
	case string(DebugLevel):
		return zapcore.DebugLevel
	case string(WarnLevel):
		return zapcore.WarnLevel
	case string(ErrorLevel):
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseFormat(format string, fallback LogFormat) LogFormat {
	f := LogFormat(strings.ToUpper(format))
	if f != FormatConsole && f != FormatJSON && f != FormatPretty {
		return fallback
	}
	return f
}

// OptionsFromEnv reads LOGGING_LEVEL and LOGGING_FORMAT, defaulting to PRODUCTION and PRETTY.
func OptionsFromEnv() Options {
	level, _ := env.GetAsString("LOGGING_LEVEL", false, string(ProductionLevel)) //nolint:errcheck
	format, _ := env.GetAsString("LOGGING_FORMAT", false, string(FormatPretty))  //nolint:errcheck
	return Options{
		Level:  LogLevel(level),
		Format: parseFormat(format, FormatPretty),
	}
}

// timeEncoder encodes the time as a human-readable timestamp.
func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}

func newEncoder(format LogFormat) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	}

	switch format {
	case FormatPretty:
		encoderConfig.EncodeTime = timeEncoder
		return NewPrettyConsoleEncoder(encoderConfig)
	case FormatConsole:
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return zapcore.NewJSONEncoder(encoderConfig)
	}
}

// New creates a zap logger writing to stdout and, if opts.FilePath is set, to that file.
// The returned close function flushes and closes the file sink.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zap.NewAtomicLevelAt(getLogLevel(opts.Level))
	encoder := newEncoder(parseFormat(string(opts.Format), FormatPretty))

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	closeFn := func() error { return nil }

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.FilePath, err)
		}
		sinks = append(sinks, zapcore.AddSync(f))
		closeFn = func() error {
			_ = f.Sync()
			return f.Close()
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), closeFn, nil
}

// DefaultFilePath returns the log file path next to the running executable.
func DefaultFilePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultLogFileName), nil
}

// For creates a named logger for a specific component.
func For(base *zap.Logger, component string) *zap.SugaredLogger {
	if base == nil {
		return zap.NewNop().Sugar()
	}
	return base.Named(component).Sugar()
}
