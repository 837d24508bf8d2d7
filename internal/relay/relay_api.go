// Copyright (c) Portbridge contributors. All rights reserved.

// Package relay implements forwarding of a single client connection to a
// backend endpoint. A relay dials the backend as soon as the client
// connection becomes active and buffers any bytes the client sends while the
// dial is in flight, so protocols where the backend speaks first (SMTP, MySQL)
// work the same as client-first protocols.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/portbridge/portbridge/internal/networking"
)

type Endpoint struct {
	Address string `yaml:"address"`
	Port    int32  `yaml:"port"`
}

func (e Endpoint) String() string {
	return networking.AddressAndPort(e.Address, e.Port)
}

type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

type DeadlineWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

type DeadlineReaderWriter interface {
	DeadlineReader
	DeadlineWriter
	SetDeadline(t time.Time) error
	Close() error
}

type State uint32

const (
	// No backend dial has been started yet.
	StateIdle State = 0x1
	// The backend dial is in flight; client bytes are being buffered.
	StateConnecting State = 0x2
	// Data flows between the client and the backend.
	StateConnected State = 0x4
	// Both connections have been torn down. Terminal.
	StateClosed State = 0x8
	StateAny    State = 0xFFFFFFFF
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultBufferSize     = 32 * 1024

	// How often the buffering loop wakes up to check for a finished dial.
	pendingPollInterval = 100 * time.Millisecond
)

type Options struct {
	// Maximum time to wait for the backend dial to complete.
	ConnectTimeout time.Duration
	// Read inactivity timeout for the steady-state data flow.
	ReadTimeout time.Duration
	// Write timeout for the steady-state data flow.
	WriteTimeout time.Duration
	// Size of the copy buffer used in each direction.
	BufferSize int
	// Maximum number of client bytes buffered while the backend dial is in
	// flight. Zero means unlimited.
	MaxPendingBytes int64
	// If set, a connected relay that has moved no bytes in either direction
	// for this long is shut down. Zero disables idle shutdown.
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// BackendConnector establishes connections to backend endpoints.
// Connect makes exactly one attempt; retry policy belongs to the caller.
// Implementations must honor context cancellation and must not leak the
// connection when the context is cancelled around the time the dial succeeds.
type BackendConnector interface {
	Connect(ctx context.Context, endpoint Endpoint) (net.Conn, error)
}

// ConnectError reports a failed backend dial.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (ce *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to backend %s: %v", ce.Endpoint, ce.Err)
}

func (ce *ConnectError) Unwrap() error {
	return ce.Err
}

var (
	// The client sent more data during the backend dial than MaxPendingBytes allows.
	ErrPendingOverflow = errors.New("pending data limit exceeded while connecting to backend")

	// The client closed its connection before the backend dial completed.
	ErrClientClosedEarly = errors.New("client closed the connection before the backend was connected")
)
