// Copyright (c) Portbridge contributors. All rights reserved.

package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portbridge/portbridge/internal/hosting"
	"github.com/portbridge/portbridge/pkg/testutil"
)

const testTimeout = 10 * time.Second

type stubService struct {
	name string
	run  func(ctx context.Context) error
}

func (ss *stubService) Name() string                  { return ss.name }
func (ss *stubService) Run(ctx context.Context) error { return ss.run(ctx) }

func TestRunHostReturnsNilWhenServicesFinishCleanly(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()
	log := testutil.NewLogForTesting(t.Name())

	// A service that stops on its own without error: the error channel
	// closes, which must read as a clean shutdown rather than a failure.
	host := &hosting.Host{
		Services: []hosting.Service{
			&stubService{name: "oneshot", run: func(context.Context) error { return nil }},
		},
		Logger: log,
	}

	require.NoError(t, runHost(ctx, log, host))
}

func TestRunHostReturnsServiceFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()
	log := testutil.NewLogForTesting(t.Name())

	failure := errors.New("listener vanished")
	host := &hosting.Host{
		Services: []hosting.Service{
			&stubService{name: "broken", run: func(context.Context) error { return failure }},
		},
		Logger: log,
	}

	require.ErrorIs(t, runHost(ctx, log, host), failure)
}

func TestRunHostStopsOnContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()
	log := testutil.NewLogForTesting(t.Name())

	hostCtx, hostCancel := context.WithCancel(ctx)

	host := &hosting.Host{
		Services: []hosting.Service{
			&stubService{name: "longrunning", run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		},
		Logger: log,
	}

	done := make(chan error, 1)
	go func() { done <- runHost(hostCtx, log, host) }()

	hostCancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("runHost did not stop in time")
	}
}
