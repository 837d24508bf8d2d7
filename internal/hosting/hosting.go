// Copyright (c) Portbridge contributors. All rights reserved.

// Package hosting runs a set of long-lived services as a single unit.
package hosting

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
)

// Service is a long-running component hosted by a Host.
// Run should block until the service stops or the context is cancelled.
type Service interface {
	Name() string
	Run(ctx context.Context) error
}

// ServiceError reports a service that stopped with an error.
type ServiceError struct {
	Name string
	Err  error
}

type Host struct {
	Services []Service
	Logger   logr.Logger
}

// RunAsync starts all services. The first returned channel delivers a single
// value when all services have stopped: nil for a clean shutdown, or the
// first error a service reported while shutting down. The second channel
// delivers an entry for every service that exits with an error before the
// context is cancelled.
func (h *Host) RunAsync(ctx context.Context) (<-chan error, <-chan ServiceError) {
	stopped := make(chan error, 1)
	serviceErrors := make(chan ServiceError, len(h.Services))

	var wg sync.WaitGroup
	var errLock sync.Mutex
	var shutdownErr error

	for _, svc := range h.Services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()

			h.Logger.V(1).Info("starting service", "Service", svc.Name())
			err := svc.Run(ctx)
			switch {
			case err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				// Clean stop

			case ctx.Err() == nil:
				// The service failed while the host was still supposed to be running
				serviceErrors <- ServiceError{Name: svc.Name(), Err: err}

			default:
				// The service failed to shut down gracefully
				errLock.Lock()
				if shutdownErr == nil {
					shutdownErr = err
				}
				errLock.Unlock()
			}
			h.Logger.V(1).Info("service stopped", "Service", svc.Name())
		}(svc)
	}

	go func() {
		wg.Wait()
		errLock.Lock()
		defer errLock.Unlock()
		stopped <- shutdownErr
		close(serviceErrors)
	}()

	return stopped, serviceErrors
}
