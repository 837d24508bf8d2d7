// Copyright (c) Portbridge contributors. All rights reserved.

package commands

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/portbridge/portbridge/internal/forwarder"
	"github.com/portbridge/portbridge/internal/hosting"
)

func NewStartCommand() (*cobra.Command, error) {
	var configPath string

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the forwarders described by a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), configPath)
		},
	}

	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the portbridge configuration file")
	if err := startCmd.MarkFlagRequired("config"); err != nil {
		return nil, err
	}

	return startCmd, nil
}

func runStart(ctx context.Context, configPath string) error {
	log := rootCmdLogger.Logger.WithName("start")

	cfg, err := forwarder.LoadFileConfig(configPath)
	if err != nil {
		return err
	}

	host := &hosting.Host{
		Services: []hosting.Service{
			forwarder.NewService("forwarders", cfg, log),
		},
		Logger: log,
	}
	return runHost(ctx, log, host)
}

func runHost(ctx context.Context, log logr.Logger, host *hosting.Host) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped, serviceErrors := host.RunAsync(runCtx)

	var runErr error
	select {
	case <-runCtx.Done():
		// Shutdown triggered
		log.Info("shutting down")
	case svcErr, ok := <-serviceErrors:
		if ok {
			log.Error(svcErr.Err, fmt.Sprintf("service %s exited with an error", svcErr.Name))
			runErr = svcErr.Err
		} else {
			// The channel closing means every service stopped on its own.
			log.Info("all services stopped")
		}
	}
	cancel()

	// An error here is a failure to terminate gracefully.
	if stopErr := <-stopped; stopErr != nil {
		log.Error(stopErr, "failed to shut down gracefully")
		if runErr == nil {
			runErr = stopErr
		}
	}

	return runErr
}
