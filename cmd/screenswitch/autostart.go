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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/screenswitch/pkg/autostart"
	"github.com/united-manufacturing-hub/screenswitch/pkg/logger"
)

func newAutostartCommand(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting the agent at login",
	}

	withManager := func(fn func(cmd *cobra.Command, m *autostart.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			base, closeLog, err := opts.newLogger()
			if err != nil {
				return err
			}
			defer func() {
				_ = base.Sync()
				_ = closeLog()
			}()
			m, err := autostart.New(logger.For(base, logger.ComponentAutostart))
			if err != nil {
				return err
			}
			return fn(cmd, m)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Start the agent at login",
			Args:  cobra.NoArgs,
			RunE: withManager(func(cmd *cobra.Command, m *autostart.Manager) error {
				if err := m.Enable(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "autostart enabled (%s)\n", m.Location())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Do not start the agent at login",
			Args:  cobra.NoArgs,
			RunE: withManager(func(cmd *cobra.Command, m *autostart.Manager) error {
				if err := m.Disable(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "autostart disabled")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the agent starts at login",
			Args:  cobra.NoArgs,
			RunE: withManager(func(cmd *cobra.Command, m *autostart.Manager) error {
				enabled, err := m.IsEnabled()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "autostart %s (%s)\n", onOff(enabled), m.Location())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "toggle",
			Short: "Flip the autostart setting",
			Args:  cobra.NoArgs,
			RunE: withManager(func(cmd *cobra.Command, m *autostart.Manager) error {
				enabled, err := m.Toggle()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "autostart %s\n", onOff(enabled))
				return nil
			}),
		},
	)
	return cmd
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
