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
	"sort"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// PrettyConsoleEncoder produces human-readable logs in a format like:
// [2006-01-02 15:04:05] [INFO] [Supervisor] Message here - key=value
//
// Context fields added through With() are kept in the embedded map encoder.
type PrettyConsoleEncoder struct {
	*zapcore.MapObjectEncoder
	cfg zapcore.EncoderConfig
}

// NewPrettyConsoleEncoder creates a new PrettyConsoleEncoder instance.
func NewPrettyConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &PrettyConsoleEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		cfg:              cfg,
	}
}

// Clone implements zapcore.Encoder interface
func (e *PrettyConsoleEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &PrettyConsoleEncoder{
		MapObjectEncoder: clone,
		cfg:              e.cfg,
	}
}

// EncodeEntry formats a log entry in a human-readable format.
func (e *PrettyConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := bufferPool.Get()

	if !entry.Time.IsZero() {
		line.AppendByte('[')
		line.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
		line.AppendString("] ")
	}

	line.AppendByte('[')
	line.AppendString(entry.Level.CapitalString())
	line.AppendString("] ")

	if entry.LoggerName != "" {
		line.AppendByte('[')
		line.AppendString(entry.LoggerName)
		line.AppendString("] ")
	}

	line.AppendString(entry.Message)

	all := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		all.Fields[k] = v
	}
	for _, field := range fields {
		field.AddTo(all)
	}
	if len(all.Fields) > 0 {
		line.AppendString(" - ")
		addFields(line, all.Fields)
	}

	if entry.Stack != "" && e.cfg.StacktraceKey != "" {
		line.AppendByte('\n')
		line.AppendString(entry.Stack)
	}

	if e.cfg.LineEnding != "" {
		line.AppendString(e.cfg.LineEnding)
	} else {
		line.AppendString(zapcore.DefaultLineEnding)
	}

	return line, nil
}

// addFields writes the fields sorted by key so lines are stable.
func addFields(line *buffer.Buffer, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 {
			line.AppendString(", ")
		}
		line.AppendString(k)
		line.AppendByte('=')
		line.AppendString(fmt.Sprintf("%v", fields[k]))
	}
}
