// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags (e.g. goreleaser -X main.Version={{.Version}}).
var Version string

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	streamer   string
	logLevel   string
}

func (f *globalFlags) appOptions(cmd *cobra.Command) appOptions {
	return appOptions{
		ConfigPath: f.configPath,
		Streamer:   f.streamer,
		LogLevel:   f.logLevel,
		Stderr:     cmd.ErrOrStderr(),
	}
}

// newRootCmd builds the command tree. Commands write to the command's
// output streams so tests can capture them.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "palmem",
		Short:         "palmem - semantic memory for a livestream co-host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       versionString(),
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default ~/.palmem/configs/config.json)")
	root.PersistentFlags().StringVarP(&flags.streamer, "streamer", "s", "", "Streamer whose memory is used (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	root.AddCommand(
		newRunCmd(flags),
		newSearchCmd(flags),
		newContextCmd(flags),
		newKeywordsCmd(flags),
		newClusterCmd(flags),
		newPruneCmd(flags),
		newConsolidateCmd(flags),
		newMaintainCmd(flags),
		newProfileCmd(flags),
		newSupportersCmd(flags),
		newArchivesCmd(flags),
		newStatsCmd(flags),
		newPersonalityCmd(flags),
	)
	return root
}

func versionString() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
