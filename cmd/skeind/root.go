// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skeinhq/skein/internal/version"
)

// errUsage marks an argument/config error (exit code 2). errBindFailed
// marks a failure to bind the listen address (exit code 1); everything
// else also exits 1.
var (
	errUsage      = errors.New("invalid arguments")
	errBindFailed = errors.New("bind failed")
)

var rootCmd = &cobra.Command{
	Use:          "skeind",
	Short:        "Skein agent network orchestration service",
	Long:         `skeind serves the Skein agent network API over loopback HTTP: network creation, message routing, and one WebSocket event stream per agent.`,
	Version:      version.Get(),
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the skeind version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

// Execute runs the root command and translates failures to exit codes:
// 0 normal, 1 bind (or other runtime) failure, 2 argument error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	rootCmd.Flags().Int("port", 0, "listen port (0 = ephemeral)")
	rootCmd.Flags().String("data-dir", "", "state directory (default: ~/.skein/api)")
	rootCmd.Flags().String("project", "", "project directory (default: current directory)")
	rootCmd.Flags().String("claude-binary", "claude", "backend binary resolved from PATH")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.data_dir", rootCmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("server.project", rootCmd.Flags().Lookup("project"))
	_ = viper.BindPFlag("backend.binary", rootCmd.Flags().Lookup("claude-binary"))
	_ = viper.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.Flags().Lookup("log-format"))

	viper.SetEnvPrefix("SKEIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
