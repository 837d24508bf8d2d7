// Copyright (c) Portbridge contributors. All rights reserved.

package networking

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func TestGetFreePortReturnsUsablePort(t *testing.T) {
	t.Parallel()

	port, err := GetFreePort("")
	require.NoError(t, err)
	require.True(t, IsValidPort(int(port)))

	listener, err := net.Listen("tcp", AddressAndPort(Localhost, port))
	require.NoError(t, err)
	defer listener.Close()
}

func TestCheckPortAvailable(t *testing.T) {
	t.Parallel()

	port, err := GetFreePort(Localhost)
	require.NoError(t, err)
	require.NoError(t, CheckPortAvailable(Localhost, port))

	listener, err := net.Listen("tcp", AddressAndPort(Localhost, port))
	require.NoError(t, err)
	defer listener.Close()

	require.Error(t, CheckPortAvailable(Localhost, port))
}

func TestIpToString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "127.0.0.1", IpToString(net.ParseIP("127.0.0.1")))
	require.Equal(t, "[::1]", IpToString(net.ParseIP("::1")))
}

func TestAddressAndPort(t *testing.T) {
	t.Parallel()

	require.Equal(t, "localhost:8080", AddressAndPort("localhost", 8080))
	require.Equal(t, fmt.Sprintf("%s:%d", "[::1]", 443), AddressAndPort("[::1]", 443))
}

func TestIsValidPort(t *testing.T) {
	t.Parallel()

	require.False(t, IsValidPort(0))
	require.True(t, IsValidPort(1))
	require.True(t, IsValidPort(65535))
	require.False(t, IsValidPort(65536))
	require.False(t, IsValidPort(-1))
}

func TestLookupIPReturnsSupportedAddresses(t *testing.T) {
	t.Parallel()

	ips, err := LookupIP(Localhost)
	require.NoError(t, err)
	require.NotEmpty(t, ips)
	for _, ip := range ips {
		require.True(t, IsValidIP(ip), "LookupIP returned unsupported address %s", ip)
	}
}

func TestLookupIPFailsForUnresolvableHosts(t *testing.T) {
	t.Parallel()

	// The .invalid TLD is reserved and never resolves.
	_, err := LookupIP("host.invalid")
	require.Error(t, err)
}

func TestIsValidIP(t *testing.T) {
	t.Parallel()

	if nettest.SupportsIPv4() {
		require.True(t, IsValidIP(net.ParseIP("127.0.0.1")))
	}
	if nettest.SupportsIPv6() {
		require.True(t, IsValidIP(net.ParseIP("::1")))
	}
	require.False(t, IsValidIP(net.IP([]byte{1, 2})))
}

func TestIsIPv4AndIsIPv6(t *testing.T) {
	t.Parallel()

	require.True(t, IsIPv4("192.168.1.1"))
	require.False(t, IsIPv4("fe80::1"))
	require.True(t, IsIPv6("fe80::1"))
	require.False(t, IsIPv6("not-an-ip"))
}
