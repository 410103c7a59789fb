package utils

import (
	"fmt"
	"net"
	"syscall"
)

// IsPrivateIP reports whether ip is loopback, private, link-local,
// multicast or unspecified.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast()
}

// PublicOnlyControl is a net.Dialer Control func that refuses connections
// to addresses IsPrivateIP matches. It runs after name resolution, so it
// also covers hostnames pointing at internal addresses.
func PublicOnlyControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("refusing to dial unresolved address %q", address)
	}
	if IsPrivateIP(ip) {
		return fmt.Errorf("refusing to dial private address %s", ip)
	}
	return nil
}
