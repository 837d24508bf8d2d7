// Copyright (c) Portbridge contributors. All rights reserved.

package networking

import (
	"fmt"
	"net"

	"golang.org/x/net/nettest"
)

const Localhost = "localhost"

// Wrap the standard net.LookupIP method to filter for supported IP address types
func LookupIP(host string) ([]net.IP, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}

	supported := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if IsValidIP(ip) {
			supported = append(supported, ip)
		}
	}
	return supported, nil
}

// Gets a free TCP port for a given address (defaults to localhost).
func GetFreePort(address string) (int32, error) {
	if address == "" {
		address = Localhost
	}

	tcpaddr, err := net.ResolveTCPAddr("tcp", AddressAndPort(address, 0))
	if err != nil {
		return 0, err
	}

	listener, listenErr := net.ListenTCP("tcp", tcpaddr)
	if listenErr != nil {
		return 0, listenErr
	}
	port := int32(listener.Addr().(*net.TCPAddr).Port)
	listener.Close()
	return port, nil
}

func CheckPortAvailable(address string, port int32) error {
	if address == "" {
		address = Localhost
	}

	tcpaddr, err := net.ResolveTCPAddr("tcp", AddressAndPort(address, port))
	if err != nil {
		return err
	}

	listener, listenErr := net.ListenTCP("tcp", tcpaddr)
	if listenErr != nil {
		return listenErr
	}
	listener.Close()
	return nil
}

func IpToString(ip net.IP) string {
	var address string
	// The order of checks is significant here
	if ip4 := ip.To4(); len(ip4) == net.IPv4len {
		address = ip4.String()
	} else if ip6 := ip.To16(); len(ip6) == net.IPv6len {
		address = fmt.Sprintf("[%s]", ip6.String())
	} else {
		// Not sure what kind address this is, but it is worth trying
		address = ip.String()
	}
	return address
}

func IsIPv4(address string) bool {
	return net.ParseIP(address).To4() != nil
}

func IsIPv6(address string) bool {
	return net.ParseIP(address).To16() != nil
}

func IsValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

func IsValidIP(ip net.IP) bool {
	if ip.To4() != nil && nettest.SupportsIPv4() {
		return true
	} else if len(ip.To16()) == net.IPv6len && nettest.SupportsIPv6() {
		return true
	}

	return false
}

func AddressAndPort(address string, port int32) string {
	return fmt.Sprintf("%s:%d", address, port)
}
