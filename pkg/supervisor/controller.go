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

import "sync"

const (
	DefaultCommandQueueSize = 8
	DefaultStatusQueueSize  = 16
)

// Controller owns the bounded host queues. It is the host side of a Supervisor:
// Start/Stop enqueue commands, Status delivers lifecycle events.
type Controller struct {
	commands chan HostCommand
	status   chan StatusEvent

	mu     sync.Mutex
	closed bool
}

// NewController creates the queues. Sizes below 1 fall back to the defaults.
func NewController(commandQueueSize, statusQueueSize int) *Controller {
	if commandQueueSize < 1 {
		commandQueueSize = DefaultCommandQueueSize
	}
	if statusQueueSize < 1 {
		statusQueueSize = DefaultStatusQueueSize
	}
	return &Controller{
		commands: make(chan HostCommand, commandQueueSize),
		status:   make(chan StatusEvent, statusQueueSize),
	}
}

// NewSupervisor builds a Supervisor wired to this controller's queues.
func (c *Controller) NewSupervisor(cfg Config) (*Supervisor, error) {
	return New(cfg, c.commands, c.status)
}

// Start requests a connection. It returns false if the command was not queued.
func (c *Controller) Start() bool { return c.send(CommandStart) }

// Stop requests a disconnect. It returns false if the command was not queued.
func (c *Controller) Stop() bool { return c.send(CommandStop) }

func (c *Controller) send(cmd HostCommand) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.commands <- cmd:
		return true
	default:
		return false
	}
}

// Status returns the single-consumer status queue.
func (c *Controller) Status() <-chan StatusEvent { return c.status }

// Close closes the command queue, which makes Supervisor.Run return.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.commands)
}
