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

// Package shutdown turns SIGINT/SIGTERM into an orderly agent shutdown.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the budget for shutdown tasks once a signal arrived.
const DefaultTimeout = 30 * time.Second

type Handler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait() error        // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal
	shuttingDown chan struct{}
	once         sync.Once
	done         chan struct{}
	err          error
}

// New starts listening for SIGINT/SIGTERM. When one arrives (or Shutdown is
// called) onShutdown runs with a context limited to timeout. If ctx ends first
// the handler exits without running onShutdown.
func New(ctx context.Context, log *zap.SugaredLogger, timeout time.Duration, onShutdown func(ctx context.Context) error) Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan struct{}),
		done:         make(chan struct{}),
	}
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(gs.done)
		defer signal.Stop(gs.quit)

		var sig os.Signal
		select {
		case <-ctx.Done():
			return
		case sig = <-gs.quit:
		}
		gs.markShuttingDown()
		log.Infow("Received signal, shutting down", "signal", sig.String())
		if onShutdown == nil {
			return
		}

		log.Infow("Waiting for shutdown tasks to complete", "timeout", timeout)
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := onShutdown(taskCtx); err != nil {
			gs.err = fmt.Errorf("shutdown tasks failed: %w", err)
			log.Errorw("Error during shutdown", "error", err)
			return
		}
		log.Info("Shutdown tasks completed. Ready to exit.")
	}()

	return gs
}

func (gs *gracefulShutdown) markShuttingDown() {
	gs.once.Do(func() { close(gs.shuttingDown) })
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	if gs.ShuttingDown() {
		return
	}
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Wait() error {
	<-gs.done
	return gs.err
}
