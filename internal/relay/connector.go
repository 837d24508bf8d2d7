// Copyright (c) Portbridge contributors. All rights reserved.

package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/portbridge/portbridge/internal/networking"
)

// NetConnector dials backend endpoints over TCP.
type NetConnector struct {
	Dialer net.Dialer
}

// Connect resolves the endpoint address and dials the resolved addresses in
// order until one accepts. Addresses whose IP family the local stack does not
// support are never dialed.
func (nc *NetConnector) Connect(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	candidates, err := resolveAddresses(endpoint.Address)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}

	var dialErr error
	for _, address := range candidates {
		conn, err := nc.Dialer.DialContext(ctx, "tcp", networking.AddressAndPort(address, endpoint.Port))
		if err != nil {
			dialErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		// The dial may have raced with cancellation; do not hand out a
		// connection the caller no longer wants.
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil, &ConnectError{Endpoint: endpoint, Err: ctx.Err()}
		}

		return conn, nil
	}

	return nil, &ConnectError{Endpoint: endpoint, Err: dialErr}
}

func resolveAddresses(address string) ([]string, error) {
	if ip := net.ParseIP(address); ip != nil {
		if !networking.IsValidIP(ip) {
			return nil, fmt.Errorf("the address family of %s is not supported on this host", address)
		}
		return []string{networking.IpToString(ip)}, nil
	}

	ips, err := networking.LookupIP(address)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no supported addresses found for %s", address)
	}

	addresses := make([]string, len(ips))
	for i, ip := range ips {
		addresses[i] = networking.IpToString(ip)
	}
	return addresses, nil
}

var _ BackendConnector = &NetConnector{}
