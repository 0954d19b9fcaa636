// Package netinfo finds the address other machines on the LAN can use to
// reach this one.
package netinfo

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoAddress is returned when no non-loopback IPv4 address is configured.
var ErrNoAddress = errors.New("no local address found")

// Interfaces lists the addresses of the local network interfaces.
type Interfaces func() ([]net.Addr, error)

// LocalIP returns the preferred outbound IPv4 address. It asks the kernel
// for the route to a public address (no packet is sent) and falls back to
// scanning the interfaces when there is no default route.
func LocalIP() (string, error) {
	if ip, err := routedIP(); err == nil {
		return ip, nil
	}
	return FirstIPv4(net.InterfaceAddrs)
}

func routedIP() (string, error) {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() || addr.IP.IsUnspecified() {
		return "", ErrNoAddress
	}
	return addr.IP.String(), nil
}

// FirstIPv4 returns the first non-loopback, non-link-local IPv4 address.
func FirstIPv4(list Interfaces) (string, error) {
	addrs, err := list()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String(), nil
	}
	return "", ErrNoAddress
}
