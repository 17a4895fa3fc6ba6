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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/screenswitch/pkg/actuator"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/decoder"
	"github.com/united-manufacturing-hub/screenswitch/pkg/logger"
	"github.com/united-manufacturing-hub/screenswitch/pkg/metrics"
	"github.com/united-manufacturing-hub/screenswitch/pkg/sentry"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
	"github.com/united-manufacturing-hub/screenswitch/pkg/supervisor"
	"github.com/united-manufacturing-hub/screenswitch/pkg/version"
)

const serverShutdownTimeout = 5 * time.Second

// agent wires the supervisor to its host: status consumer, HTTP endpoints and shutdown.
type agent struct {
	opts     *runOptions
	base     *zap.Logger
	log      *zap.SugaredLogger
	ctrl     *supervisor.Controller
	sup      *supervisor.Supervisor
	gate     *actuator.Gate
	metrics  *metrics.Metrics
	reporter *sentry.Reporter

	// stopped receives a value for every Stopped status event.
	stopped chan struct{}
}

func newAgent(opts *runOptions, base *zap.Logger, opener session.Opener) (*agent, error) {
	log := logger.For(base, logger.ComponentCore)

	policy, err := opts.policy()
	if err != nil {
		return nil, err
	}
	mode, err := decoder.ParseMode(opts.payloadMode)
	if err != nil {
		return nil, err
	}

	dsn, _ := env.GetAsString("SENTRY_DSN", false, "") //nolint:errcheck
	reporter, err := sentry.New(sentry.Options{DSN: dsn, AppVersion: version.GetAppVersion()}, log)
	if err != nil {
		log.Warnf("Continuing without Sentry: %v", err)
	}

	m := metrics.New()
	gate := actuator.NewGate(actuator.NewDisplay(logger.For(base, logger.ComponentActuator)), logger.For(base, logger.ComponentGate))
	ctrl := supervisor.NewController(supervisor.DefaultCommandQueueSize, supervisor.DefaultStatusQueueSize)

	sup, err := ctrl.NewSupervisor(supervisor.Config{
		Loader:      config.NewFileLoader(opts.resolvedConfigPath(), logger.For(base, logger.ComponentConfigLoader)),
		Opener:      opener,
		Decoder:     decoder.New(mode),
		Gate:        gate,
		Policy:      policy,
		Metrics:     m,
		Reporter:    reporter,
		Logger:      logger.For(base, logger.ComponentSupervisor),
		PollTimeout: opts.pollTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &agent{
		opts:     opts,
		base:     base,
		log:      log,
		ctrl:     ctrl,
		sup:      sup,
		gate:     gate,
		metrics:  m,
		reporter: reporter,
		stopped:  make(chan struct{}, 1),
	}, nil
}

// run starts the supervisor and requests a connection. It returns once the
// supervisor exits, which happens after shutdown closes the command queue.
func (a *agent) run(ctx context.Context) error {
	a.log.Infof("Starting %s", version.String())
	if !version.IsRelease() {
		a.log.Warnf("Running a development build (%s)", version.GetAppVersion())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return a.sup.Run(gctx)
	})
	g.Go(func() error { return a.consumeStatus(gctx) })
	if a.opts.metricsAddr != "" {
		g.Go(func() error { return a.serve(gctx, "metrics", a.metrics.NewServer(a.opts.metricsAddr)) })
	}
	if a.opts.healthAddr != "" {
		g.Go(func() error { return a.serve(gctx, "healthcheck", a.newHealthServer()) })
	}

	if !a.ctrl.Start() {
		a.log.Warn("Command queue full, initial Start dropped")
	}
	return g.Wait()
}

// shutdown stops the supervisor, waits for the Stopped report and closes the
// command queue so run returns.
func (a *agent) shutdown(ctx context.Context) error {
	defer a.ctrl.Close()

	if a.sup.State() == supervisor.StateDisconnected {
		return nil
	}
	for drained := false; !drained; {
		select {
		case <-a.stopped:
		default:
			drained = true
		}
	}
	if !a.ctrl.Stop() {
		a.log.Warn("Command queue full, closing without Stop")
		return nil
	}

	select {
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor did not stop: %w", ctx.Err())
	}
}

func (a *agent) consumeStatus(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.ctrl.Status():
			switch ev.Kind {
			case supervisor.StatusStarted:
				snap := a.sup.Snapshot()
				a.log.Infof("Listening for display commands (%s, connected %s in total)", snap.State, snap.Uptime(time.Now()).Round(time.Second))
			case supervisor.StatusError:
				a.log.Errorf("Agent error: %s", ev.Message)
			case supervisor.StatusStopped:
				a.log.Infof("Agent stopped after %s connected", a.sup.Snapshot().Uptime(time.Now()).Round(time.Second))
				select {
				case a.stopped <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (a *agent) newHealthServer() *http.Server {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("mqtt-check", checkConnected(a.sup))

	return &http.Server{
		Addr:        a.opts.healthAddr,
		Handler:     health,
		ReadTimeout: 5 * time.Second,
	}
}

func checkConnected(sup *supervisor.Supervisor) healthcheck.Check {
	return func() error {
		if state := sup.State(); state != supervisor.StateConnected {
			return fmt.Errorf("mqtt session is %s", state)
		}
		return nil
	}
}

// serve runs srv until ctx ends. A listener failure is logged and does not stop the agent.
func (a *agent) serve(ctx context.Context, name string, srv *http.Server) error {
	log := logger.For(a.base, logger.ComponentHTTP)
	log.Debugf("Setting up %s on %s", name, srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			a.metrics.IncErrorCountAndLog(metrics.ComponentHTTP, err, nil)
			a.reporter.ReportIssuef(sentry.IssueTypeWarning, log, "error starting %s: %v", name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
