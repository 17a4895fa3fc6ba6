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

package supervisor

import (
	"context"

	"github.com/looplab/fsm"
)

// Connection states
const (
	// StateDisconnected is the initial state and the state after Stop or give-up.
	StateDisconnected = "disconnected"
	// StateConnecting covers config reload, connect and subscribe.
	StateConnecting = "connecting"
	// StateConnected means subscribed and polling.
	StateConnected = "connected"
	// StateReconnecting covers the backoff sleep between attempts.
	StateReconnecting = "reconnecting"
)

// Connection events
const (
	EventStart          = "start"
	EventConfigFailed   = "config_failed"
	EventOpenSucceeded  = "open_succeeded"
	EventOpenFailed     = "open_failed"
	EventConnectionLost = "connection_lost"
	EventRejected       = "rejected"
	EventRetry          = "retry"
	EventGiveUp         = "give_up"
	EventStop           = "stop"
)

// transitions is the complete connection lifecycle.
var transitions = fsm.Events{
	{Name: EventStart, Src: []string{StateDisconnected}, Dst: StateConnecting},
	{Name: EventConfigFailed, Src: []string{StateConnecting}, Dst: StateDisconnected},
	{Name: EventOpenSucceeded, Src: []string{StateConnecting}, Dst: StateConnected},
	{Name: EventOpenFailed, Src: []string{StateConnecting}, Dst: StateReconnecting},
	{Name: EventConnectionLost, Src: []string{StateConnected}, Dst: StateReconnecting},
	{Name: EventRejected, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
	{Name: EventRetry, Src: []string{StateReconnecting}, Dst: StateConnecting},
	{Name: EventGiveUp, Src: []string{StateReconnecting}, Dst: StateDisconnected},
	{Name: EventStop, Src: []string{StateConnecting, StateConnected, StateReconnecting}, Dst: StateDisconnected},
}

// newConnectionFSM builds the lifecycle machine. onEnter runs after every state change.
func newConnectionFSM(onEnter func(ctx context.Context, e *fsm.Event)) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		transitions,
		fsm.Callbacks{
			"enter_state": onEnter,
		},
	)
}
