// Copyright (c) Portbridge contributors. All rights reserved.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portbridge/portbridge/pkg/logger"
)

var rootCmdLogger *logger.Logger

func NewRootCmd() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "portbridged",
		Short: "Forwards TCP connections to configured backend endpoints",
		Long: `Portbridged is a TCP port forwarding daemon.

	It listens on configured local ports and relays each incoming connection
	to one of the backend endpoints, buffering early client data while the
	backend connection is being established.`,
		SilenceUsage: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			rootCmdLogger.Flush()
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	rootCmdLogger = logger.New("portbridged")
	rootCmdLogger.AddLevelFlag(rootCmd.PersistentFlags())

	if cmd, err := NewStartCommand(); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'start' command: %w", err)
	}

	return rootCmd, nil
}
