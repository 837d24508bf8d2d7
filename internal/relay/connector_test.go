// Copyright (c) Portbridge contributors. All rights reserved.

package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portbridge/portbridge/internal/networking"
	"github.com/portbridge/portbridge/pkg/testutil"
)

func TestNetConnectorConnects(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	endpoint := startBackend(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	nc := &NetConnector{}
	conn, err := nc.Connect(ctx, endpoint)
	require.NoError(t, err)
	require.NotNil(t, conn)
	conn.Close()
}

func TestNetConnectorWrapsDialErrors(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	port, err := networking.GetFreePort("127.0.0.1")
	require.NoError(t, err)
	endpoint := Endpoint{Address: "127.0.0.1", Port: port}

	nc := &NetConnector{}
	conn, connectErr := nc.Connect(ctx, endpoint)
	require.Nil(t, conn)

	var ce *ConnectError
	require.ErrorAs(t, connectErr, &ce)
	require.Equal(t, endpoint, ce.Endpoint)
	require.NotNil(t, ce.Unwrap())
}

func TestNetConnectorHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	endpoint := startBackend(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	nc := &NetConnector{}
	conn, err := nc.Connect(ctx, endpoint)
	require.Nil(t, conn)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNetConnectorResolvesHostnames(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	endpoint := startBackend(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	})

	// Dial by name; the connector must resolve it and reach the same listener.
	nc := &NetConnector{}
	conn, err := nc.Connect(ctx, Endpoint{Address: "localhost", Port: endpoint.Port})
	require.NoError(t, err)
	require.NotNil(t, conn)
	conn.Close()
}

func TestNetConnectorRejectsUnresolvableHosts(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, testTimeout)
	defer cancel()

	// The .invalid TLD is reserved and never resolves.
	endpoint := Endpoint{Address: "backend.invalid", Port: 9}

	nc := &NetConnector{}
	conn, err := nc.Connect(ctx, endpoint)
	require.Nil(t, conn)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, endpoint, ce.Endpoint)
}

func TestNetConnectorRespectsConnectTimeout(t *testing.T) {
	t.Parallel()

	// A non-routable address forces the dial to hang until the deadline.
	endpoint := Endpoint{Address: "203.0.113.1", Port: 9}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	nc := &NetConnector{}
	start := time.Now()
	conn, err := nc.Connect(ctx, endpoint)
	require.Nil(t, conn)
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}
