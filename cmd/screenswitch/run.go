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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/screenswitch/internal/shutdown"
	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/decoder"
	"github.com/united-manufacturing-hub/screenswitch/pkg/logger"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
)

type runOptions struct {
	configPath  string
	logFile     string
	backoff     string
	maxRetries  int
	pollTimeout time.Duration
	payloadMode string
	metricsAddr string
	healthAddr  string

	messageBuffer int
}

// defaultRunOptions reads the flag defaults from the environment.
func defaultRunOptions() *runOptions {
	o := &runOptions{}
	o.configPath, _ = env.GetAsString("CONFIG_FILE", false, "")                              //nolint:errcheck
	o.backoff, _ = env.GetAsString("BACKOFF_POLICY", false, string(backoff.KindExponential)) //nolint:errcheck
	o.maxRetries, _ = env.GetAsInt("MAX_RETRIES", false, 0)                                  //nolint:errcheck
	o.payloadMode, _ = env.GetAsString("PAYLOAD_MODE", false, string(decoder.ModeAuto))      //nolint:errcheck
	o.metricsAddr, _ = env.GetAsString("METRICS_ADDR", false, ":2112")                       //nolint:errcheck
	o.healthAddr, _ = env.GetAsString("HEALTH_ADDR", false, ":8086")                         //nolint:errcheck
	o.messageBuffer, _ = env.GetAsInt("MESSAGE_BUFFER", false, 64)                           //nolint:errcheck

	pollMs, _ := env.GetAsInt("POLL_TIMEOUT_MS", false, 500) //nolint:errcheck
	o.pollTimeout = time.Duration(pollMs) * time.Millisecond

	defaultLogFile, err := logger.DefaultFilePath()
	if err != nil {
		defaultLogFile = ""
	}
	o.logFile, _ = env.GetAsString("LOG_FILE", false, defaultLogFile) //nolint:errcheck
	return o
}

func (o *runOptions) addRunFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.backoff, "backoff", o.backoff, "reconnect policy: fixed or exponential [BACKOFF_POLICY]")
	fs.IntVar(&o.maxRetries, "max-retries", o.maxRetries, "consecutive failures before giving up, 0 uses the policy default [MAX_RETRIES]")
	fs.DurationVar(&o.pollTimeout, "poll-timeout", o.pollTimeout, "upper bound for reacting to Stop while connected [POLL_TIMEOUT_MS]")
	fs.StringVar(&o.payloadMode, "payload-mode", o.payloadMode, "message format: auto, structured or legacy [PAYLOAD_MODE]")
	fs.StringVar(&o.metricsAddr, "metrics-addr", o.metricsAddr, "Prometheus listen address, empty disables [METRICS_ADDR]")
	fs.StringVar(&o.healthAddr, "health-addr", o.healthAddr, "health check listen address, empty disables [HEALTH_ADDR]")
	fs.IntVar(&o.messageBuffer, "message-buffer", o.messageBuffer, "inbound messages queued while a command is being applied [MESSAGE_BUFFER]")
}

func (o *runOptions) policy() (backoff.Policy, error) {
	if o.maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", o.maxRetries)
	}
	kind, err := backoff.ParseKind(o.backoff)
	if err != nil {
		return nil, err
	}
	if kind == backoff.KindFixed {
		return backoff.NewFixed(0, uint(o.maxRetries)), nil
	}
	return backoff.NewExponential(0, 0, uint(o.maxRetries)), nil
}

func (o *runOptions) opener(base *zap.Logger) (*session.MQTTOpener, error) {
	if o.messageBuffer < 1 {
		return nil, fmt.Errorf("message buffer must be at least 1, got %d", o.messageBuffer)
	}
	return session.NewMQTTOpener(logger.For(base, logger.ComponentSession), session.WithBufferSize(o.messageBuffer)), nil
}

func (o *runOptions) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.FindConfigFile(config.DefaultConfigDir())
}

func (o *runOptions) newLogger() (*zap.Logger, func() error, error) {
	logOpts := logger.OptionsFromEnv()
	logOpts.FilePath = o.logFile
	return logger.New(logOpts)
}

func newRunCommand(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}
	opts.addRunFlags(cmd.Flags())
	return cmd
}

func runAgent(cmd *cobra.Command, opts *runOptions) error {
	base, closeLog, err := opts.newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = base.Sync()
		_ = closeLog()
	}()

	log := logger.For(base, logger.ComponentCore)
	opener, err := opts.opener(base)
	if err != nil {
		log.Errorf("Failed to set up agent: %v", err)
		return err
	}
	a, err := newAgent(opts, base, opener)
	if err != nil {
		log.Errorf("Failed to set up agent: %v", err)
		return err
	}
	defer a.reporter.Flush(2 * time.Second)

	return runHost(cmd.Context(), a)
}

// runForeground runs the agent until SIGINT/SIGTERM, then stops it within shutdown.DefaultTimeout.
func runForeground(ctx context.Context, a *agent) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sd := shutdown.New(ctx, logger.For(a.base, logger.ComponentCore), shutdown.DefaultTimeout, a.shutdown)
	runErr := a.run(ctx)
	cancel()
	return errors.Join(runErr, sd.Wait())
}
