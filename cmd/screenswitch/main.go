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
	"os"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/screenswitch/pkg/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := defaultRunOptions()

	rootCmd := &cobra.Command{
		Use:           "screenswitch",
		Short:         "Switch the display on and off from MQTT messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath,
		"broker config file (default: config.yaml, config.yml or config.toml next to the executable) [CONFIG_FILE]")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", opts.logFile,
		"append logs to this file, empty disables [LOG_FILE]")
	opts.addRunFlags(rootCmd.Flags())

	rootCmd.AddCommand(
		newRunCommand(opts),
		newSendCommand(opts),
		newAutostartCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}
