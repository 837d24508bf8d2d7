// Copyright (c) Portbridge contributors. All rights reserved.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/portbridge/portbridge/pkg/concurrency"
	"github.com/portbridge/portbridge/pkg/logger"
	"github.com/portbridge/portbridge/pkg/queue"
)

// Handler forwards a single accepted client connection to a backend endpoint.
//
// The lifecycle is Idle -> Connecting -> Connected -> Closed, with Closed
// reachable from any state. The backend dial starts as soon as Run() is
// called; client bytes that arrive while the dial is in flight are buffered
// (in order) and flushed to the backend before any steady-state forwarding.
// The dial is never retried: a failed dial closes the client connection so
// the client learns promptly that the backend is unavailable.
type Handler struct {
	id        uuid.UUID
	endpoint  Endpoint
	connector BackendConnector
	opts      Options
	client    net.Conn

	pending      *queue.ConcurrentQueue[[]byte]
	pendingBytes atomic.Int64
	buffering    atomic.Bool
	lastActivity *concurrency.AtomicTime

	lifetimeCtx context.Context
	log         logr.Logger

	lock  sync.Mutex
	state State
}

func NewHandler(lifetimeCtx context.Context, client net.Conn, endpoint Endpoint, connector BackendConnector, opts Options, log logr.Logger) *Handler {
	id := uuid.New()
	return &Handler{
		id:           id,
		endpoint:     endpoint,
		connector:    connector,
		opts:         opts.withDefaults(),
		client:       client,
		pending:      queue.NewConcurrentQueue[[]byte](),
		lastActivity: concurrency.AtomicTimeNow(),
		lifetimeCtx:  lifetimeCtx,
		log:          log.WithValues("relay", id.String(), "backend", endpoint.String()),
		state:        StateIdle,
	}
}

func (h *Handler) ID() uuid.UUID {
	return h.id
}

func (h *Handler) Endpoint() Endpoint {
	return h.endpoint
}

func (h *Handler) State() State {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

func (h *Handler) LastActivity() time.Time {
	return h.lastActivity.Load()
}

func (h *Handler) setState(expected State, new State) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.state&expected == 0 {
		return fmt.Errorf("relay is in state '%s', cannot transition to '%s'", h.state, new)
	}
	h.state = new
	return nil
}

type dialOutcome struct {
	conn net.Conn
	err  error
}

// Run drives the relay to completion. It returns when both connections are
// closed. Run is the only goroutine that transitions states; it must be
// called exactly once.
func (h *Handler) Run() error {
	defer func() {
		_ = h.setState(StateAny, StateClosed)
	}()

	if err := h.setState(StateIdle, StateConnecting); err != nil {
		return err
	}

	// The dial starts immediately: waiting for the first client byte would
	// deadlock protocols where the backend speaks first.
	dialCtx, dialCancel := context.WithTimeout(h.lifetimeCtx, h.opts.ConnectTimeout)
	defer dialCancel()

	dialCh := make(chan dialOutcome, 1)
	go h.dialBackend(dialCtx, dialCh)

	h.buffering.Store(true)
	clientErrCh := make(chan error, 1)
	bufferingDone := make(chan struct{})
	go h.bufferClientData(clientErrCh, bufferingDone)

	var backend net.Conn

	select {
	case outcome := <-dialCh:
		if outcome.err != nil {
			h.log.V(1).Info("backend dial failed, closing client connection", "error", outcome.err.Error())
			_ = h.client.Close()
			<-bufferingDone
			h.discardPending()
			return outcome.err
		}
		backend = outcome.conn

	case clientErr := <-clientErrCh:
		dialCancel()
		_ = h.client.Close()
		<-bufferingDone
		h.closeLateBackend(dialCh)
		h.discardPending()
		if errors.Is(clientErr, io.EOF) {
			return ErrClientClosedEarly
		}
		return clientErr

	case <-h.lifetimeCtx.Done():
		dialCancel()
		_ = h.client.Close()
		<-bufferingDone
		h.closeLateBackend(dialCh)
		h.discardPending()
		return h.lifetimeCtx.Err()
	}

	// Stop the buffering loop and take over the client connection.
	h.buffering.Store(false)
	_ = h.client.SetReadDeadline(time.Now())
	<-bufferingDone

	// The client may have failed or disconnected while the dial was winning
	// the race above.
	select {
	case clientErr := <-clientErrCh:
		_ = backend.Close()
		_ = h.client.Close()
		h.discardPending()
		if errors.Is(clientErr, io.EOF) {
			return ErrClientClosedEarly
		}
		return clientErr
	default:
	}

	if err := h.client.SetReadDeadline(time.Time{}); err != nil {
		_ = backend.Close()
		_ = h.client.Close()
		h.discardPending()
		return fmt.Errorf("failed to reset client read deadline: %w", err)
	}

	if err := h.drainPending(backend); err != nil {
		_ = backend.Close()
		_ = h.client.Close()
		return fmt.Errorf("failed to flush buffered client data to backend: %w", err)
	}

	if err := h.setState(StateConnecting, StateConnected); err != nil {
		_ = backend.Close()
		_ = h.client.Close()
		return err
	}

	h.relay(backend)
	return nil
}

// dialBackend delivers exactly one outcome on results.
func (h *Handler) dialBackend(ctx context.Context, results chan<- dialOutcome) {
	conn, err := h.connector.Connect(ctx, h.endpoint)
	if err != nil {
		var ce *ConnectError
		if !errors.As(err, &ce) {
			err = &ConnectError{Endpoint: h.endpoint, Err: err}
		}
		results <- dialOutcome{err: err}
		return
	}
	results <- dialOutcome{conn: conn}
}

// closeLateBackend collects the dial outcome after the dial was cancelled
// and closes the connection if the dial managed to succeed anyway.
func (h *Handler) closeLateBackend(dialCh <-chan dialOutcome) {
	outcome := <-dialCh
	if outcome.conn != nil {
		_ = outcome.conn.Close()
	}
}

// bufferClientData reads from the client while the backend dial is in flight
// and stores what arrives in the pending queue. Reads use a short deadline so
// the loop notices promptly when buffering is switched off.
func (h *Handler) bufferClientData(errCh chan<- error, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, h.opts.BufferSize)

	for h.buffering.Load() {
		if err := h.client.SetReadDeadline(time.Now().Add(pendingPollInterval)); err != nil {
			errCh <- err
			return
		}

		in, readErr := h.client.Read(buf)
		if in > 0 {
			if h.opts.MaxPendingBytes > 0 && h.pendingBytes.Add(int64(in)) > h.opts.MaxPendingBytes {
				errCh <- ErrPendingOverflow
				return
			}
			chunk := make([]byte, in)
			copy(chunk, buf[:in])
			h.pending.Enqueue(chunk)
			h.lastActivity.TryAdvancingTo(time.Now())
		}

		if readErr != nil && !errors.Is(readErr, os.ErrDeadlineExceeded) {
			errCh <- readErr
			return
		}
	}
}

// drainPending writes all buffered client bytes to the backend, preserving
// arrival order. Pending data is flushed exactly once, before any
// steady-state forwarding starts.
func (h *Handler) drainPending(backend net.Conn) error {
	for {
		chunk, ok := h.pending.Dequeue()
		if !ok {
			break
		}

		if err := backend.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout)); err != nil {
			return err
		}
		if _, err := writeAll(backend, chunk); err != nil {
			return err
		}
	}

	h.pendingBytes.Store(0)
	return backend.SetWriteDeadline(time.Time{})
}

func writeAll(w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (h *Handler) discardPending() {
	for {
		if _, ok := h.pending.Dequeue(); !ok {
			break
		}
	}
	h.pendingBytes.Store(0)
}

// activityConn advances an activity timestamp whenever a read moves bytes.
type activityConn struct {
	net.Conn
	activity *concurrency.AtomicTime
}

func (ac *activityConn) Read(p []byte) (int, error) {
	n, err := ac.Conn.Read(p)
	if n > 0 {
		ac.activity.TryAdvancingTo(time.Now())
	}
	return n, err
}

// relay runs the steady-state bidirectional copy. When either direction
// finishes, the stream context is cancelled; once both directions have
// stopped touching the connections, both are closed. A relay that moves no
// bytes for Options.IdleTimeout (when set) is shut down the same way.
func (h *Handler) relay(backend net.Conn) {
	streamCtx, streamCancel := context.WithCancel(h.lifetimeCtx)
	defer streamCancel()

	var wg sync.WaitGroup
	wg.Add(2)

	stop := context.AfterFunc(streamCtx, func() {
		wg.Wait()
		_ = h.client.Close()
		_ = backend.Close()
	})
	defer stop()

	// The idle clock starts when the relay becomes connected, not when the
	// client connection was accepted.
	h.lastActivity.TryAdvancingTo(time.Now())
	if h.opts.IdleTimeout > 0 {
		go h.watchIdle(streamCtx, streamCancel)
	}

	fromClient := &activityConn{Conn: h.client, activity: h.lastActivity}
	fromBackend := &activityConn{Conn: backend, activity: h.lastActivity}

	var clientToBackend *StreamResult
	go func() {
		defer wg.Done()
		defer streamCancel()
		clientToBackend = StreamData(streamCtx, h.opts.BufferSize, fromClient, backend, h.opts.ReadTimeout, h.opts.WriteTimeout)
	}()

	backendToClient := func() *StreamResult {
		defer wg.Done()
		defer streamCancel()
		return StreamData(streamCtx, h.opts.BufferSize, fromBackend, h.client, h.opts.ReadTimeout, h.opts.WriteTimeout)
	}()

	wg.Wait()

	h.log.V(1).Info("relay finished",
		"clientToBackend", clientToBackend.LogProperties(),
		"backendToClient", backendToClient.LogProperties())
}

// watchIdle shuts the relay down once no bytes have moved for IdleTimeout.
func (h *Handler) watchIdle(streamCtx context.Context, streamCancel context.CancelFunc) {
	ticker := time.NewTicker(h.opts.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return

		case <-ticker.C:
			idleFor := time.Since(h.lastActivity.Load())
			if idleFor >= h.opts.IdleTimeout {
				h.log.V(1).Info("closing idle relay",
					"IdleFor", idleFor.String(),
					"LastActivity", logger.FriendlyTimestamp(h.lastActivity.Load()))
				streamCancel()
				return
			}
		}
	}
}
