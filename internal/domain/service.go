package domain

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultProbePort is used when a service file has no HOST_PORT (ssh is up on almost every box).
	DefaultProbePort = 22
	// DefaultBroadcastIP is used when a service file has no BROADCAST_IP.
	DefaultBroadcastIP = "255.255.255.255"
)

// ServiceConfig is the validated, immutable description of one wakeable backend.
//
// It is built once at startup by the service source and never mutated afterwards,
// so it can be shared freely between goroutines.
type ServiceConfig struct {
	// ID is derived from the config file name.
	// Example: configs/jellyfin.yml -> jellyfin
	ID string

	// Hostname is the lookup key for inbound requests, taken from AppURL.
	// Example: jellyfin.local
	Hostname string

	// MAC is the hardware address the magic packet targets.
	MAC net.HardwareAddr

	// BroadcastIP is where the magic packet is sent.
	BroadcastIP string

	// Host and Port are probed to decide whether the backend is up.
	Host string
	Port int

	// AppURL is where clients are redirected once the backend is up.
	AppURL *url.URL

	// IgnoredPaths are path prefixes, stored without a leading slash,
	// that never trigger a probe or a wake packet.
	IgnoredPaths []string

	// Source is the file the config was loaded from.
	Source string
}

// ProbeAddr returns "host:port" for the reachability probe.
func (s *ServiceConfig) ProbeAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns AppURL as a string.
func (s *ServiceConfig) URL() string {
	if s.AppURL == nil {
		return ""
	}
	return s.AppURL.String()
}

// IsIgnored reports whether path starts with one of the ignored prefixes.
// The leading slash of path is ignored, so "/api/status" matches "api/status".
func (s *ServiceConfig) IsIgnored(path string) bool {
	path = strings.TrimPrefix(path, "/")
	for _, prefix := range s.IgnoredPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// NormalizeHostname lowercases h and drops any port and trailing dot.
func NormalizeHostname(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}
