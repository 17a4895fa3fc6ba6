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

// Package supervisor owns the broker connection lifecycle and routes inbound
// commands to the display.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/screenswitch/pkg/actuator"
	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/decoder"
	"github.com/united-manufacturing-hub/screenswitch/pkg/metrics"
	"github.com/united-manufacturing-hub/screenswitch/pkg/sentry"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
)

// DefaultPollTimeout bounds how long a Stop may wait while connected.
const DefaultPollTimeout = 500 * time.Millisecond

var errCommandsClosed = errors.New("command channel closed")

// Config wires the supervisor to its collaborators.
type Config struct {
	Loader  config.Loader
	Opener  session.Opener
	Decoder *decoder.Decoder
	Gate    *actuator.Gate
	Policy  backoff.Policy

	// Optional
	Metrics     *metrics.Metrics
	Reporter    *sentry.Reporter
	Logger      *zap.SugaredLogger
	PollTimeout time.Duration
	// After returns a channel that fires once d has elapsed. Defaults to time.After.
	After func(d time.Duration) <-chan time.Time
	// Now defaults to time.Now.
	Now func() time.Time
}

// Supervisor runs the connection state machine on a single goroutine.
// Everything except Snapshot and State must only be used from Run.
type Supervisor struct {
	cfg      Config
	commands <-chan HostCommand
	status   chan<- StatusEvent
	logger   *zap.SugaredLogger

	machine  *fsm.FSM
	session  session.Session
	stats    ConnectionStats
	failures uint

	snapshot atomic.Pointer[Snapshot]
}

type openResult struct {
	session session.Session
	err     error
}

// New validates cfg and returns a Supervisor in the disconnected state.
func New(cfg Config, commands <-chan HostCommand, status chan<- StatusEvent) (*Supervisor, error) {
	switch {
	case cfg.Loader == nil:
		return nil, errors.New("supervisor: config loader is required")
	case cfg.Opener == nil:
		return nil, errors.New("supervisor: session opener is required")
	case cfg.Gate == nil:
		return nil, errors.New("supervisor: actuation gate is required")
	case cfg.Policy == nil:
		return nil, errors.New("supervisor: backoff policy is required")
	case commands == nil:
		return nil, errors.New("supervisor: command channel is required")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.New(decoder.ModeAuto)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Supervisor{
		cfg:      cfg,
		commands: commands,
		status:   status,
		logger:   cfg.Logger,
	}
	s.machine = newConnectionFSM(func(_ context.Context, e *fsm.Event) {
		s.logger.Debugf("Connection state %s -> %s (%s)", e.Src, e.Dst, e.Event)
		s.cfg.Metrics.SetState(e.Dst)
		s.publish()
	})
	s.cfg.Metrics.SetState(StateDisconnected)
	s.publish()
	return s, nil
}

// Snapshot returns the latest published state. Safe for concurrent use.
func (s *Supervisor) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// State returns the current connection state. Safe for concurrent use.
func (s *Supervisor) State() string {
	return s.Snapshot().State
}

// Run processes host commands until the command channel is closed (returns nil)
// or ctx is cancelled (returns ctx.Err()). The active session is closed first.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Infof("Supervisor started (policy %s, max retries %d, poll timeout %s)",
		s.cfg.Policy.Kind(), s.cfg.Policy.MaxRetries(), s.cfg.PollTimeout)

	for {
		var err error
		switch s.machine.Current() {
		case StateDisconnected:
			err = s.runDisconnected(ctx)
		case StateConnecting:
			err = s.runConnecting(ctx)
		case StateConnected:
			err = s.runConnected(ctx)
		case StateReconnecting:
			err = s.runReconnecting(ctx)
		default:
			err = fmt.Errorf("unknown connection state %q", s.machine.Current())
		}
		if err != nil {
			s.teardown(ctx)
			if errors.Is(err, errCommandsClosed) {
				s.logger.Info("Command channel closed, supervisor exiting")
				return nil
			}
			return err
		}
	}
}

func (s *Supervisor) runDisconnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case cmd, ok := <-s.commands:
		if !ok {
			return errCommandsClosed
		}
		s.handleCommand(ctx, cmd)
		return nil
	}
}

func (s *Supervisor) runConnecting(ctx context.Context) error {
	brokerCfg, err := s.cfg.Loader.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cfg.Metrics.IncErrorCountAndLog(metrics.ComponentConfig, err, s.logger)
		s.cfg.Reporter.ReportIssue(fmt.Errorf("config reload failed: %w", err), sentry.IssueTypeWarning, s.logger,
			map[string]interface{}{"operation": "load_config", "category": backoff.CategoryOf(err).String()})
		s.fire(ctx, EventConfigFailed)
		s.emit(StatusEvent{Kind: StatusError, Message: fmt.Sprintf("configuration error: %v", err)})
		s.emit(StatusEvent{Kind: StatusStopped})
		return nil
	}

	s.stats.Attempts++
	s.cfg.Metrics.IncAttempt()
	s.publish()
	s.logger.Infof("Connecting to %s (attempt %d)", brokerCfg.BrokerURL(), s.failures+1)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan openResult, 1)
	go func() {
		sess, err := s.cfg.Opener.Open(attemptCtx, brokerCfg)
		results <- openResult{session: sess, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			discardLate(results)
			return ctx.Err()
		case cmd, ok := <-s.commands:
			if !ok {
				cancel()
				discardLate(results)
				return errCommandsClosed
			}
			if cmd == CommandStop {
				cancel()
				discardLate(results)
				s.stop(ctx)
				return nil
			}
			s.handleCommand(ctx, cmd)
		case r := <-results:
			if r.err != nil {
				s.recordFailure(ctx, EventOpenFailed, r.err)
				return nil
			}
			s.session = r.session
			s.failures = 0
			s.stats.Successes++
			s.stats.ConnectedSince = s.cfg.Now()
			s.cfg.Metrics.IncSuccess()
			s.logger.Infof("Connected to %s, listening on %s", brokerCfg.BrokerURL(), brokerCfg.Topic)
			s.fire(ctx, EventOpenSucceeded)
			s.emit(StatusEvent{Kind: StatusStarted})
			return nil
		}
	}
}

// discardLate closes a session that completes after its attempt was abandoned.
func discardLate(results <-chan openResult) {
	go func() {
		if r := <-results; r.session != nil {
			r.session.Close()
		}
	}()
}

func (s *Supervisor) runConnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case cmd, ok := <-s.commands:
		if !ok {
			return errCommandsClosed
		}
		s.handleCommand(ctx, cmd)
		return nil
	default:
	}

	res := s.session.Poll(ctx, s.cfg.PollTimeout)
	switch res.Kind {
	case session.KindMessage:
		s.dispatch(res.Payload)
	case session.KindDisconnected, session.KindTransportError:
		err := res.Err
		if err == nil {
			err = errors.New("connection closed by broker")
		}
		s.closeSession()
		s.recordFailure(ctx, EventConnectionLost, err)
	case session.KindIdle:
	}
	return nil
}

func (s *Supervisor) runReconnecting(ctx context.Context) error {
	n := s.failures
	if s.cfg.Policy.ShouldStop(n) {
		err := fmt.Errorf("giving up after %d consecutive failures", n)
		s.cfg.Metrics.IncErrorCountAndLog(metrics.ComponentSupervisor, err, nil)
		s.cfg.Reporter.ReportIssue(err, sentry.IssueTypeError, s.logger,
			map[string]interface{}{"operation": "connect", "policy": string(s.cfg.Policy.Kind())})
		s.fire(ctx, EventGiveUp)
		s.emit(StatusEvent{Kind: StatusError, Message: err.Error()})
		s.emit(StatusEvent{Kind: StatusStopped})
		return nil
	}

	delay := s.cfg.Policy.NextDelay(n)
	s.logger.Infof("Retrying in %s (failure %d of %d)", delay, n, s.cfg.Policy.MaxRetries())
	wake := s.cfg.After(delay)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-s.commands:
			if !ok {
				return errCommandsClosed
			}
			s.handleCommand(ctx, cmd)
			if s.machine.Current() != StateReconnecting {
				return nil
			}
		case <-wake:
			s.fire(ctx, EventRetry)
			return nil
		}
	}
}

func (s *Supervisor) handleCommand(ctx context.Context, cmd HostCommand) {
	state := s.machine.Current()
	switch cmd {
	case CommandStart:
		if state != StateDisconnected {
			s.logger.Debugf("Ignoring Start in state %s", state)
			return
		}
		s.failures = 0
		s.publish()
		s.fire(ctx, EventStart)
	case CommandStop:
		if state == StateDisconnected {
			s.logger.Debugf("Ignoring Stop in state %s", state)
			return
		}
		s.stop(ctx)
	default:
		s.logger.Warnf("Ignoring unknown host command %s", cmd)
	}
}

// stop tears down the session and reports Stopped.
func (s *Supervisor) stop(ctx context.Context) {
	s.logger.Info("Stopping")
	s.closeSession()
	s.fire(ctx, EventStop)
	s.emit(StatusEvent{Kind: StatusStopped})
}

func (s *Supervisor) teardown(ctx context.Context) {
	if s.machine.Current() == StateDisconnected {
		return
	}
	s.stop(ctx)
}

// recordFailure schedules a retry for transient errors. Permanent errors stop
// the supervisor without touching the retry budget.
func (s *Supervisor) recordFailure(ctx context.Context, event string, err error) {
	s.stats.Failures++
	s.cfg.Metrics.IncFailure(event)
	s.cfg.Metrics.IncErrorCountAndLog(metrics.ComponentSession, err, nil)

	if backoff.IsPermanentError(err) {
		s.cfg.Reporter.ReportIssue(fmt.Errorf("connection rejected: %w", err), sentry.IssueTypeError, s.logger,
			map[string]interface{}{"operation": event, "category": backoff.CategoryPermanent.String()})
		s.fire(ctx, EventRejected)
		s.emit(StatusEvent{Kind: StatusError, Message: fmt.Sprintf("connection rejected: %v", err)})
		s.emit(StatusEvent{Kind: StatusStopped})
		return
	}

	s.failures++
	s.logger.Warnf("%s: %v (category %s, consecutive failures %d)", event, err, backoff.CategoryOf(err), s.failures)
	s.fire(ctx, event)
}

// dispatch decodes one payload and routes power commands through the gate.
func (s *Supervisor) dispatch(payload []byte) {
	cmd, err := s.cfg.Decoder.Decode(payload)
	if err != nil {
		s.cfg.Metrics.IncDecodeError()
		if backoff.IsIgnoredError(err) {
			s.logger.Warnf("Ignoring message: %v", err)
		} else {
			s.cfg.Reporter.ReportIssue(err, sentry.IssueTypeWarning, s.logger, map[string]interface{}{"operation": "decode"})
		}
	}
	s.cfg.Metrics.IncMessage(cmd.Kind.String())

	if cmd.Kind != decoder.KindSetPower {
		if err == nil {
			s.logger.Infof("Ignoring unknown action %q", cmd.Action)
		}
		return
	}

	changed := s.cfg.Gate.Apply(cmd.On)
	s.cfg.Metrics.RecordActuation(cmd.On, changed)
	if cmd.Source != "" {
		s.logger.Infof("Display %s requested by %s (changed: %t)", cmd.Action, cmd.Source, changed)
	} else {
		s.logger.Infof("Display %s requested (changed: %t)", cmd.Action, changed)
	}
}

func (s *Supervisor) closeSession() {
	if s.session == nil {
		return
	}
	s.session.Close()
	s.session = nil

	if !s.stats.ConnectedSince.IsZero() {
		uptime := s.cfg.Now().Sub(s.stats.ConnectedSince)
		s.stats.TotalUptime += uptime
		s.stats.ConnectedSince = time.Time{}
		s.cfg.Metrics.AddConnected(uptime)
	}
	s.publish()
}

// fire runs a transition. Transitions must complete even while ctx is being cancelled.
func (s *Supervisor) fire(ctx context.Context, event string) {
	if err := s.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Errorf("Transition %s from %s failed: %v", event, s.machine.Current(), err)
	}
}

// emit never blocks; a full status queue drops the event.
func (s *Supervisor) emit(ev StatusEvent) {
	if s.status == nil {
		return
	}
	select {
	case s.status <- ev:
		s.logger.Debugf("Reported %s", ev)
	default:
		s.cfg.Metrics.IncStatusDropped()
		s.logger.Warnf("Status queue full, dropping %s", ev)
	}
}

func (s *Supervisor) publish() {
	state := StateDisconnected
	if s.machine != nil {
		state = s.machine.Current()
	}
	s.snapshot.Store(&Snapshot{
		State:               state,
		Stats:               s.stats,
		ConsecutiveFailures: s.failures,
	})
}
