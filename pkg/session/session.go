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

// Package session owns exactly one MQTT connection from open to close.
// It never retries; reconnect policy belongs to the supervisor.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
)

// PollKind classifies the outcome of one Poll call.
type PollKind int

const (
	// KindIdle means nothing happened within the timeout.
	KindIdle PollKind = iota
	// KindMessage carries one inbound payload.
	KindMessage
	// KindDisconnected means the broker closed the connection.
	KindDisconnected
	// KindTransportError means the connection broke for any other reason.
	KindTransportError
)

func (k PollKind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindMessage:
		return "message"
	case KindDisconnected:
		return "disconnected"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// PollResult is returned by Session.Poll. Topic and Payload are set for
// KindMessage, Err for KindTransportError (and optionally KindDisconnected).
type PollResult struct {
	Kind    PollKind
	Topic   string
	Payload []byte
	Err     error
}

// Session is one open, subscribed bus connection.
type Session interface {
	// Poll waits up to timeout for the next event. It never returns an error
	// for a timeout; it returns KindIdle instead.
	Poll(ctx context.Context, timeout time.Duration) PollResult
	// Close disconnects. It is safe to call more than once.
	Close()
}

// Opener opens a Session: connect and subscribe as a single step.
type Opener interface {
	Open(ctx context.Context, cfg config.BrokerConfig) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, cfg config.BrokerConfig) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, cfg config.BrokerConfig) (Session, error) {
	return f(ctx, cfg)
}

// Stage names the step of Open that failed.
type Stage string

const (
	StageTLS       Stage = "tls"
	StageConnect   Stage = "connect"
	StageSubscribe Stage = "subscribe"
	StagePublish   Stage = "publish"
)

// ConnectError reports a failed Open. It only concerns this session.
type ConnectError struct {
	Stage  Stage
	Broker string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s to %s failed: %v", e.Stage, e.Broker, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
