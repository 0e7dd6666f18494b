// ABOUTME: SSRF guard validating outbound MCP server URLs before any connection.
// ABOUTME: Rejects internal address ranges, metadata hosts, and sensitive ports.

// Package urlguard validates server URLs before the transport connects to
// them, rejecting addresses that would let a configured server reach internal
// infrastructure.
package urlguard

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// maxURLLength bounds accepted URLs; anything longer is rejected outright.
const maxURLLength = 2048

// blockedHostnames are exact hostname matches that are never allowed,
// covering loopback aliases, cloud metadata endpoints, and service discovery.
var blockedHostnames = map[string]struct{}{
	"localhost":                   {},
	"metadata":                    {},
	"metadata.google.internal":    {},
	"metadata.goog":               {},
	"169.254.169.254":             {},
	"100.100.100.200":             {},
	"instance-data":               {},
	"instance-data.ec2.internal":  {},
	"consul":                      {},
	"consul.service.consul":       {},
	"kubernetes.default.svc":      {},
	"kubernetes.default":          {},
}

// blockedPorts are ports for sensitive services that an MCP server URL has no
// business pointing at.
var blockedPorts = map[string]struct{}{
	"22":    {}, // ssh
	"23":    {}, // telnet
	"25":    {}, // smtp
	"135":   {}, // msrpc
	"137":   {}, // netbios
	"139":   {}, // netbios
	"445":   {}, // smb
	"1433":  {}, // mssql
	"1521":  {}, // oracle
	"3306":  {}, // mysql
	"3389":  {}, // rdp
	"5432":  {}, // postgres
	"5984":  {}, // couchdb
	"6379":  {}, // redis
	"9200":  {}, // elasticsearch
	"11211": {}, // memcached
	"27017": {}, // mongodb
}

// Validate checks a raw URL against the guard rules and returns the
// normalized URL string if it is acceptable.
func Validate(raw string) (string, error) {
	if len(raw) > maxURLLength {
		return "", fmt.Errorf("url exceeds %d characters", maxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported protocol %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host")
	}
	if _, blocked := blockedHostnames[host]; blocked {
		return "", fmt.Errorf("hostname %q is blocked", host)
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if err := checkAddr(addr); err != nil {
			return "", err
		}
	}

	if port := u.Port(); port != "" {
		if _, blocked := blockedPorts[port]; blocked {
			return "", fmt.Errorf("port %s is blocked", port)
		}
		// Scheme/port mismatches indicate either a typo or an attempt to
		// confuse a downstream proxy.
		if scheme == "https" && port == "80" {
			return "", fmt.Errorf("https url must not use port 80")
		}
		if scheme == "http" && port == "443" {
			return "", fmt.Errorf("http url must not use port 443")
		}
	}

	return u.String(), nil
}

// checkAddr rejects IP addresses in loopback, private, link-local, and
// unspecified ranges for both IPv4 and IPv6.
func checkAddr(addr netip.Addr) error {
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("address %s is a loopback address", addr)
	case addr.IsPrivate():
		return fmt.Errorf("address %s is in a private range", addr)
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return fmt.Errorf("address %s is link-local", addr)
	case addr.IsUnspecified():
		return fmt.Errorf("address %s is unspecified", addr)
	}
	return nil
}
