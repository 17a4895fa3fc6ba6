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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/decoder"
	"github.com/united-manufacturing-hub/screenswitch/pkg/logger"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
)

const sendTimeout = 15 * time.Second

// publisher is the part of session.MQTTOpener used by send.
type publisher interface {
	Publish(ctx context.Context, cfg config.BrokerConfig, payload []byte) error
}

func newSendCommand(opts *runOptions) *cobra.Command {
	var (
		source string
		legacy bool
	)
	cmd := &cobra.Command{
		Use:       "send on|off",
		Short:     "Publish a display command to the configured topic",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			base, closeLog, err := opts.newLogger()
			if err != nil {
				return err
			}
			defer func() {
				_ = base.Sync()
				_ = closeLog()
			}()

			loader := config.NewFileLoader(opts.resolvedConfigPath(), logger.For(base, logger.ComponentConfigLoader))
			pub := session.NewMQTTOpener(logger.For(base, logger.ComponentSession))

			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()
			if err := sendCommand(ctx, loader, pub, args[0], source, legacy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "value for params.source in the structured payload")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "send the bare on/off token instead of JSON")
	return cmd
}

func sendCommand(ctx context.Context, loader config.Loader, pub publisher, action, source string, legacy bool) error {
	if action != "on" && action != "off" {
		return fmt.Errorf("unknown action %q (want on or off)", action)
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	payload := []byte(action)
	if !legacy {
		payload, err = decoder.Encode(action, source)
		if err != nil {
			return err
		}
	}
	return pub.Publish(ctx, cfg, payload)
}
