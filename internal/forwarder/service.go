// Copyright (c) Portbridge contributors. All rights reserved.

package forwarder

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/portbridge/portbridge/internal/hosting"
)

// Service hosts a group of forwarders described by a configuration file.
type Service struct {
	name   string
	config *FileConfig
	log    logr.Logger
}

func NewService(name string, config *FileConfig, log logr.Logger) *Service {
	return &Service{
		name:   name,
		config: config,
		log:    log,
	}
}

func (s *Service) Name() string {
	return s.name
}

// Run starts every configured forwarder and blocks until the context is
// cancelled. A forwarder that fails to start takes the whole service down.
func (s *Service) Run(ctx context.Context) error {
	for i := range s.config.Forwarders {
		fc := &s.config.Forwarders[i]

		f := NewForwarder(fc.Name, fc.ListenAddress, fc.ListenPort, fc.RelayOptions(), ctx, s.log)
		if err := f.Start(); err != nil {
			return fmt.Errorf("failed to start forwarder '%s': %w", fc.Name, err)
		}
		if err := f.Configure(fc.EndpointConfig()); err != nil {
			return fmt.Errorf("failed to configure forwarder '%s': %w", fc.Name, err)
		}

		s.log.Info("forwarder started",
			"Name", fc.Name,
			"Address", f.EffectiveAddress,
			"Port", f.EffectivePort,
			"Endpoints", len(fc.Endpoints))
	}

	<-ctx.Done()
	return ctx.Err()
}

var _ hosting.Service = (*Service)(nil)
