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

//go:build !windows

package autostart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const desktopFileName = "screenswitch.desktop"

// desktopStore writes an XDG autostart entry.
type desktopStore struct {
	dir string
}

func newPlatformStore() (store, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return desktopStore{dir: filepath.Join(base, "autostart")}, nil
}

func (d desktopStore) location() string { return filepath.Join(d.dir, desktopFileName) }

func (d desktopStore) exists() (bool, error) {
	_, err := os.Stat(d.location())
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (d desktopStore) set(command string) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.location(), []byte(desktopEntry(command)), 0o644)
}

func (d desktopStore) remove() error {
	err := os.Remove(d.location())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func desktopEntry(command string) string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=%s
Comment=Switch the display on and off from MQTT
Exec="%s" run
X-GNOME-Autostart-enabled=true
`, AppName, command)
}
