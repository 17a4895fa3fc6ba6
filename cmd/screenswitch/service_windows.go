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

package main

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows/svc"

	"github.com/united-manufacturing-hub/screenswitch/internal/shutdown"
	"github.com/united-manufacturing-hub/screenswitch/pkg/logger"
)

const serviceName = "ScreenSwitch"

// runHost runs under the service control manager when started by it, in the foreground otherwise.
func runHost(ctx context.Context, a *agent) error {
	inService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("failed to detect the service control manager: %w", err)
	}
	if !inService {
		return runForeground(ctx, a)
	}
	a.log.Infof("Running as Windows service %s", serviceName)
	return svc.Run(serviceName, &serviceHandler{ctx: ctx, agent: a})
}

type serviceHandler struct {
	ctx   context.Context
	agent *agent
}

// Execute maps service Stop and Shutdown requests to a supervisor Stop.
func (h *serviceHandler) Execute(_ []string, requests <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown
	log := logger.For(h.agent.base, logger.ComponentService)

	changes <- svc.Status{State: svc.StartPending}
	errCh := make(chan error, 1)
	go func() { errCh <- h.agent.run(h.ctx) }()
	changes <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case err := <-errCh:
			if err != nil {
				log.Errorf("Agent exited: %v", err)
				return false, 1
			}
			return false, 0
		case c := <-requests:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Infof("Service control request %d, stopping", c.Cmd)
				changes <- svc.Status{State: svc.StopPending}

				ctx, cancel := context.WithTimeout(h.ctx, shutdown.DefaultTimeout)
				if err := h.agent.shutdown(ctx); err != nil {
					log.Errorf("Error during shutdown: %v", err)
				}
				cancel()
				if err := <-errCh; err != nil {
					log.Errorf("Agent exited: %v", err)
					return false, 1
				}
				return false, 0
			default:
				log.Warnf("Unexpected service control request %d", c.Cmd)
			}
		}
	}
}
