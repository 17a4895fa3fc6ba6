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

// Package actuator switches the physical display and deduplicates redundant requests.
package actuator

import (
	"sync"

	"go.uber.org/zap"
)

// Actuator drives the display. Calls are fire-and-forget.
type Actuator interface {
	SetDisplayPower(on bool)
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(on bool)

func (f ActuatorFunc) SetDisplayPower(on bool) { f(on) }

// Gate remembers the last requested display state and only forwards changes.
// The display cannot be queried, so the gate assumes it starts on.
type Gate struct {
	mu       sync.Mutex
	actuator Actuator
	current  bool
	logger   *zap.SugaredLogger
}

// NewGate returns a Gate whose assumed state is on.
func NewGate(a Actuator, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{actuator: a, current: true, logger: logger}
}

// Apply switches the display to target if it differs from the current state.
// It returns true when the actuator was invoked.
func (g *Gate) Apply(target bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == target {
		g.logger.Debugf("Display already %s, skipping", stateName(target))
		return false
	}

	g.actuator.SetDisplayPower(target)
	g.current = target
	g.logger.Infof("Display switched %s", stateName(target))
	return true
}

// State reports whether the display is believed to be on.
func (g *Gate) State() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func stateName(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
