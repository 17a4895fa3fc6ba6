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

//go:build windows

package actuator

import (
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	hwndBroadcast  = 0xFFFF
	wmSysCommand   = 0x0112
	scMonitorPower = 0xF170

	monitorOn  = ^uintptr(0) // -1
	monitorOff = 2
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procSendMessage = user32.NewProc("SendMessageW")
)

// Display broadcasts SC_MONITORPOWER to all top-level windows.
type Display struct {
	logger *zap.SugaredLogger
}

// NewDisplay returns the platform display actuator.
func NewDisplay(logger *zap.SugaredLogger) *Display {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Display{logger: logger}
}

func (d *Display) SetDisplayPower(on bool) {
	if err := procSendMessage.Find(); err != nil {
		d.logger.Errorf("SendMessageW unavailable: %v", err)
		return
	}

	lParam := uintptr(monitorOff)
	if on {
		lParam = monitorOn
	}
	// The return value carries no useful status for broadcasts.
	_, _, _ = procSendMessage.Call(hwndBroadcast, wmSysCommand, scMonitorPower, lParam)
	d.logger.Debugf("Sent SC_MONITORPOWER lParam=%d", int(lParam))
}
