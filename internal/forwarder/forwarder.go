// Copyright (c) Portbridge contributors. All rights reserved.

// Package forwarder implements a TCP listener that forwards every accepted
// connection to one of a set of configured backend endpoints via a relay.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/portbridge/portbridge/internal/networking"
	"github.com/portbridge/portbridge/internal/relay"
	"github.com/portbridge/portbridge/pkg/concurrency"
	"github.com/portbridge/portbridge/pkg/syncmap"
)

type State uint32

const (
	StateInitial  State = 0x1
	StateRunning  State = 0x2
	StateFailed   State = 0x4
	StateFinished State = 0x8
	StateAny      State = 0xFFFFFFFF
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Forwarder listens on a TCP address and relays accepted connections to
// backend endpoints supplied via Configure(). Connections accepted before
// the first configuration arrives, or while the endpoint list is empty,
// are parked and served once endpoints become available.
type Forwarder struct {
	Name          string
	ListenAddress string
	ListenPort    int32

	EffectiveAddress string
	EffectivePort    int32

	configLoadedChannel  *chanx.UnboundedChan[Config]
	configurationApplied *concurrency.AutoResetEvent
	connector            relay.BackendConnector
	relayOptions         relay.Options

	activeRelays *syncmap.Map[string, *relay.Handler]

	lifetimeCtx context.Context
	log         logr.Logger
	state       State
	lock        sync.Locker
}

// NewForwarder creates a forwarder instance.
//
// After Start() is called, the forwarder listens on the specified address and
// port (which cannot be changed afterwards) and relays incoming connections
// to the endpoints supplied via Configure(). The forwarder stops when the
// lifetime context is cancelled.
//
// If the address is empty, the forwarder listens on localhost. The
// EffectiveAddress field will contain the actual listened-on IPv4 or IPv6
// address. If the port is 0, the forwarder listens on a random port and
// EffectivePort will contain the actual listened-on port.
func NewForwarder(name string, listenAddress string, listenPort int32, opts relay.Options, lifetimeCtx context.Context, log logr.Logger) *Forwarder {
	f := Forwarder{
		Name:          name,
		ListenAddress: listenAddress,
		ListenPort:    listenPort,

		configLoadedChannel:  chanx.NewUnboundedChan[Config](lifetimeCtx, 1),
		configurationApplied: concurrency.NewAutoResetEvent(false),
		connector:            &relay.NetConnector{},
		relayOptions:         opts,

		activeRelays: &syncmap.Map[string, *relay.Handler]{},

		lifetimeCtx: lifetimeCtx,
		log:         log.WithValues("forwarder", name),
		state:       StateInitial,
		lock:        &sync.Mutex{},
	}

	return &f
}

func (f *Forwarder) Start() error {
	if err := f.setState(StateInitial, StateRunning); err != nil {
		return fmt.Errorf("forwarder cannot be started: %w", err)
	}

	if f.ListenAddress == "" {
		f.ListenAddress = networking.Localhost
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(f.lifetimeCtx, "tcp", networking.AddressAndPort(f.ListenAddress, f.ListenPort))
	if err != nil {
		_ = f.setState(StateAny, StateFailed)
		return err
	}

	f.EffectiveAddress = networking.IpToString(listener.Addr().(*net.TCPAddr).IP)
	f.EffectivePort = int32(listener.Addr().(*net.TCPAddr).Port)

	go f.run(listener)
	return nil
}

// Configure replaces the endpoint set used for future connections.
// Relays that are already running are not affected.
func (f *Forwarder) Configure(newConfig Config) error {
	state := f.State()
	if state == StateFailed {
		return fmt.Errorf("forwarder cannot be configured in Failed state")
	}

	// Configuration applied after the forwarder has finished will not be effective,
	// but the call to Configure might come during shutdown, so we do not return an error in that case.
	if state != StateFinished {
		f.configLoadedChannel.In <- newConfig.Clone()
		if state == StateRunning {
			<-f.configurationApplied.Wait()
		}
	}

	return nil
}

func (f *Forwarder) State() State {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

// ActiveRelayCount reports the number of relays currently serving connections.
func (f *Forwarder) ActiveRelayCount() int {
	count := 0
	f.activeRelays.Range(func(string, *relay.Handler) bool {
		count++
		return true
	})
	return count
}

func (f *Forwarder) setState(expectedState, newState State) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.state == newState {
		return nil
	}
	if f.state&expectedState != 0 {
		f.state = newState
		return nil
	}

	return fmt.Errorf("forwarder cannot be set to state %s (current state %s)", newState.String(), f.state.String())
}

func (f *Forwarder) stop(listener net.Listener) {
	// This Close call will stop the Accept loop, which ultimately causes run() to exit
	if err := listener.Close(); err != nil {
		f.log.Error(err, "Error stopping forwarder")
	}

	_ = f.setState(StateAny, StateFinished)
}

func (f *Forwarder) run(listener net.Listener) {
	var parkedConnections []net.Conn

	defer func() {
		for _, conn := range parkedConnections {
			_ = conn.Close()
		}
	}()
	defer f.configurationApplied.SetAndFreeze() // Make sure that Configure() calls return after the forwarder has stopped
	defer f.stop(listener)

	// Wait until the config has been loaded the first time before serving any connections
	config := <-f.configLoadedChannel.Out
	f.configurationApplied.Set()
	f.log.V(1).Info("initial endpoint configuration loaded", "Config", config.String())

	// Make a channel that will receive a connection when one is accepted
	connectionChannel := chanx.NewUnboundedChan[net.Conn](f.lifetimeCtx, 1)
	go func() {
		for {
			if f.lifetimeCtx.Err() != nil {
				return
			}

			// Accept will block until a connection is received or the listener is closed via f.stop()
			incoming, err := listener.Accept()
			if errors.Is(err, net.ErrClosed) {
				// Normal shutdown pathway, don't log
				return
			} else if err != nil {
				f.log.Info("Error accepting TCP connection", "Error", err.Error())
			} else {
				connectionChannel.In <- incoming
			}
		}
	}()

	for {
		select {
		case <-f.lifetimeCtx.Done():
			return

		case config = <-f.configLoadedChannel.Out:
			if f.lifetimeCtx.Err() != nil {
				return
			}
			f.configurationApplied.Set()
			f.log.V(1).Info("endpoint configuration changed; new configuration will be applied to future connections...", "Config", config.String())

			if len(config.Endpoints) > 0 {
				for _, conn := range parkedConnections {
					go f.handleConnection(config, conn)
				}
				parkedConnections = nil
			}

		case incoming := <-connectionChannel.Out:
			if f.lifetimeCtx.Err() != nil {
				return
			}

			if len(config.Endpoints) == 0 {
				f.log.V(1).Info("No endpoints configured, parking connection...")
				parkedConnections = append(parkedConnections, incoming)
			} else {
				// Pass the config (copy value) to the goroutine to avoid data races.
				go f.handleConnection(config, incoming)
			}
		}
	}
}

func (f *Forwarder) handleConnection(config Config, incoming net.Conn) {
	if f.lifetimeCtx.Err() != nil {
		_ = incoming.Close()
		return
	}

	endpoint, err := chooseEndpoint(&config)
	if err != nil {
		_ = incoming.Close()
		f.log.Error(err, "Cannot serve TCP connection")
		return
	}

	h := relay.NewHandler(f.lifetimeCtx, incoming, *endpoint, f.connector, f.relayOptions, f.log)
	f.activeRelays.Store(h.ID().String(), h)
	defer f.activeRelays.LoadAndDelete(h.ID().String())

	if f.log.V(1).Enabled() {
		f.log.V(1).Info(fmt.Sprintf("Accepted TCP connection from %s, relaying to %s ...",
			incoming.RemoteAddr().String(),
			endpoint.String(),
		))
	}

	runErr := h.Run()
	switch {
	case runErr == nil:
		// Normal completion; details were logged by the relay.

	case errors.Is(runErr, relay.ErrClientClosedEarly):
		// Clients are free to give up while the backend dial is in flight.
		f.log.V(1).Info("Client closed the connection before the backend was connected",
			"Client", incoming.RemoteAddr().String())

	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		// Shutdown pathway, don't log

	default:
		f.log.Error(runErr, "Error relaying TCP connection")
	}
}

func chooseEndpoint(config *Config) (*relay.Endpoint, error) {
	// Select a random endpoint from the configured list
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no endpoints configured")
	}

	return &config.Endpoints[rand.Intn(len(config.Endpoints))], nil
}
