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

package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
)

// Mode selects which wire shapes the Decoder accepts.
type Mode string

const (
	// ModeAuto tries the structured form first and falls back to the legacy token.
	ModeAuto Mode = "auto"
	// ModeStructured only accepts {"action": ..., "params": {...}} documents.
	ModeStructured Mode = "structured"
	// ModeLegacy only accepts the raw "on" / "off" tokens.
	ModeLegacy Mode = "legacy"
)

// ParseMode accepts auto, structured or legacy (case-insensitive). Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeStructured, ModeLegacy:
		return m, nil
	default:
		return "", fmt.Errorf("unknown payload mode %q (want auto, structured or legacy)", s)
	}
}

// Kind is the decoded command type.
type Kind int

const (
	KindUnknown Kind = iota
	KindSetPower
)

func (k Kind) String() string {
	if k == KindSetPower {
		return "set_power"
	}
	return "unknown"
}

// Format records which wire shape produced a Command.
type Format int

const (
	FormatNone Format = iota
	FormatStructured
	FormatLegacy
)

func (f Format) String() string {
	switch f {
	case FormatStructured:
		return "structured"
	case FormatLegacy:
		return "legacy"
	default:
		return "none"
	}
}

const (
	ActionOn  = "on"
	ActionOff = "off"
)

// Command is a decoded inbound message. It is consumed once and never retained.
type Command struct {
	Kind   Kind
	On     bool
	Action string
	Source string
	Format Format
	Raw    []byte
}

// DecodeError reports a payload that matched no supported shape.
// The accompanying Command is always KindUnknown.
type DecodeError struct {
	Mode    Mode
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode payload %q in %s mode: %v", truncate(e.Payload, 64), e.Mode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// newDecodeError marks the failure as ignored: the message is dropped and polling continues.
func newDecodeError(mode Mode, payload []byte, err error) error {
	return backoff.NewIgnoredError(&DecodeError{Mode: mode, Payload: payload, Err: err})
}

var (
	ErrNotStructured = errors.New("payload is not a structured command")
	ErrUnknownToken  = errors.New("payload is neither \"on\" nor \"off\"")
)

// structuredCommand is the JSON shape of a structured command.
type structuredCommand struct {
	Action *string        `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Decoder turns inbound payloads into Commands. It holds no state beyond its mode.
type Decoder struct {
	mode Mode
}

// New returns a Decoder for mode. An empty mode means ModeAuto.
func New(mode Mode) *Decoder {
	if mode == "" {
		mode = ModeAuto
	}
	return &Decoder{mode: mode}
}

// Mode returns the configured mode.
func (d *Decoder) Mode() Mode { return d.mode }

// Decode parses payload. The returned Command is always usable; a non-nil
// error wraps a *DecodeError, is categorized as ignored and the Command is KindUnknown.
func (d *Decoder) Decode(payload []byte) (Command, error) {
	switch d.mode {
	case ModeLegacy:
		return decodeLegacy(payload, d.mode)
	case ModeStructured:
		cmd, err := decodeStructured(payload)
		if err != nil {
			return unknown(payload, FormatNone), newDecodeError(d.mode, payload, err)
		}
		return cmd, nil
	default:
		if cmd, err := decodeStructured(payload); err == nil {
			return cmd, nil
		}
		return decodeLegacy(payload, d.mode)
	}
}

func decodeStructured(payload []byte) (Command, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Command{}, ErrNotStructured
	}

	var msg structuredCommand
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrNotStructured, err)
	}
	if msg.Action == nil {
		return Command{}, fmt.Errorf("%w: missing action", ErrNotStructured)
	}

	cmd := Command{
		Action: strings.TrimSpace(*msg.Action),
		Format: FormatStructured,
		Raw:    payload,
	}
	if src, ok := msg.Params["source"].(string); ok {
		cmd.Source = src
	}

	switch cmd.Action {
	case ActionOn:
		cmd.Kind, cmd.On = KindSetPower, true
	case ActionOff:
		cmd.Kind, cmd.On = KindSetPower, false
	default:
		cmd.Kind = KindUnknown
	}
	return cmd, nil
}

func decodeLegacy(payload []byte, mode Mode) (Command, error) {
	token := string(bytes.TrimSpace(payload))
	switch token {
	case ActionOn:
		return Command{Kind: KindSetPower, On: true, Action: token, Format: FormatLegacy, Raw: payload}, nil
	case ActionOff:
		return Command{Kind: KindSetPower, On: false, Action: token, Format: FormatLegacy, Raw: payload}, nil
	default:
		return unknown(payload, FormatLegacy), newDecodeError(mode, payload, ErrUnknownToken)
	}
}

func unknown(payload []byte, format Format) Command {
	return Command{Kind: KindUnknown, Format: format, Raw: payload}
}

// Encode produces the structured form of a command. source may be empty.
func Encode(action, source string) ([]byte, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, errors.New("action must not be empty")
	}
	msg := structuredCommand{Action: &action}
	if source != "" {
		msg.Params = map[string]any{"source": source}
	}
	return json.Marshal(msg)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
