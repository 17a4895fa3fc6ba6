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
	"fmt"
	"time"
)

// HostCommand is sent by the owning process.
type HostCommand int

const (
	CommandStart HostCommand = iota + 1
	CommandStop
)

func (c HostCommand) String() string {
	switch c {
	case CommandStart:
		return "Start"
	case CommandStop:
		return "Stop"
	default:
		return fmt.Sprintf("HostCommand(%d)", int(c))
	}
}

// StatusKind classifies a StatusEvent.
type StatusKind int

const (
	StatusStarted StatusKind = iota + 1
	StatusStopped
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusStarted:
		return "Started"
	case StatusStopped:
		return "Stopped"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// StatusEvent is reported to the owning process. Message is set for StatusError.
type StatusEvent struct {
	Kind    StatusKind
	Message string
}

func (e StatusEvent) String() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Message)
}

// ConnectionStats are monotonic counters owned by the supervisor goroutine.
type ConnectionStats struct {
	Attempts       uint64
	Successes      uint64
	Failures       uint64
	TotalUptime    time.Duration
	ConnectedSince time.Time
}

// Snapshot is an immutable copy of the supervisor state for other goroutines.
type Snapshot struct {
	State               string
	Stats               ConnectionStats
	ConsecutiveFailures uint
}

// Uptime returns TotalUptime plus the running connection, if any.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if s.Stats.ConnectedSince.IsZero() {
		return s.Stats.TotalUptime
	}
	return s.Stats.TotalUptime + now.Sub(s.Stats.ConnectedSince)
}
