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

// Package autostart registers the agent to start with the user session.
package autostart

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// AppName is the name the autostart entry is registered under.
const AppName = "AutoScreenSwitch"

// store is the platform-specific autostart location.
type store interface {
	exists() (bool, error)
	set(command string) error
	remove() error
	location() string
}

// Manager enables and disables starting the agent at login.
type Manager struct {
	store      store
	executable func() (string, error)
	logger     *zap.SugaredLogger
}

// New returns a Manager for the current platform.
func New(logger *zap.SugaredLogger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s, err := newPlatformStore()
	if err != nil {
		return nil, err
	}
	return &Manager{store: s, executable: os.Executable, logger: logger}, nil
}

// IsEnabled reports whether the autostart entry exists.
func (m *Manager) IsEnabled() (bool, error) {
	enabled, err := m.store.exists()
	if err != nil {
		return false, fmt.Errorf("failed to read autostart entry at %s: %w", m.store.location(), err)
	}
	return enabled, nil
}

// Enable points the autostart entry at the running executable.
func (m *Manager) Enable() error {
	exe, err := m.executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	if err := m.store.set(exe); err != nil {
		return fmt.Errorf("failed to write autostart entry at %s: %w", m.store.location(), err)
	}
	m.logger.Infof("Autostart enabled (%s -> %s)", m.store.location(), exe)
	return nil
}

// Disable removes the autostart entry. Removing a missing entry is not an error.
func (m *Manager) Disable() error {
	if err := m.store.remove(); err != nil {
		return fmt.Errorf("failed to remove autostart entry at %s: %w", m.store.location(), err)
	}
	m.logger.Infof("Autostart disabled (%s)", m.store.location())
	return nil
}

// Toggle flips the autostart entry and returns the new state.
func (m *Manager) Toggle() (bool, error) {
	enabled, err := m.IsEnabled()
	if err != nil {
		return false, err
	}
	if enabled {
		return false, m.Disable()
	}
	return true, m.Enable()
}

// Location describes where the entry lives, for display.
func (m *Manager) Location() string { return m.store.location() }
