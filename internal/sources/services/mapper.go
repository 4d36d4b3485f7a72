package services

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
)

// Mapper validates service records and converts them to domain.ServiceConfig.
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices converts every record; the first invalid record aborts the mapping.
func (m *Mapper) MapServices(records []Record) ([]*domain.ServiceConfig, error) {
	services := make([]*domain.ServiceConfig, 0, len(records))
	for _, rec := range records {
		svc, err := m.MapService(rec)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	if len(services) == 0 {
		return nil, &domain.ConfigError{Source: "services", Reason: "no valid services found"}
	}

	return services, nil
}

// MapService validates one record.
func (m *Mapper) MapService(rec Record) (*domain.ServiceConfig, error) {
	f := rec.File
	fail := func(field, reason string) error {
		return &domain.ConfigError{Source: rec.Path, Field: field, Reason: reason}
	}

	id := serviceID(rec.Path)
	if id == "" {
		return nil, fail("", "cannot derive a service id from the file name")
	}

	if strings.TrimSpace(f.HostMAC) == "" {
		return nil, fail("HOST_MAC", "missing or empty required field")
	}
	mac, err := net.ParseMAC(strings.TrimSpace(f.HostMAC))
	if err != nil {
		return nil, fail("HOST_MAC", "invalid MAC address: "+err.Error())
	}

	host := strings.TrimSpace(f.HostIP)
	if host == "" {
		return nil, fail("HOST_IP", "missing or empty required field")
	}

	port := f.HostPort
	if port == 0 {
		port = domain.DefaultProbePort
	}
	if port < 1 || port > 65535 {
		return nil, fail("HOST_PORT", "out of range: "+strconv.Itoa(port))
	}

	if strings.TrimSpace(f.AppURL) == "" {
		return nil, fail("APP_URL", "missing or empty required field")
	}
	appURL, err := url.Parse(strings.TrimSpace(f.AppURL))
	if err != nil {
		return nil, fail("APP_URL", "invalid URL: "+err.Error())
	}
	if appURL.Scheme != "http" && appURL.Scheme != "https" {
		return nil, fail("APP_URL", "scheme must be http or https")
	}
	hostname := domain.NormalizeHostname(appURL.Hostname())
	if hostname == "" {
		return nil, fail("APP_URL", "could not determine hostname")
	}

	broadcast := strings.TrimSpace(f.BroadcastIP)
	if broadcast == "" {
		broadcast = domain.DefaultBroadcastIP
	}
	if net.ParseIP(broadcast) == nil {
		return nil, fail("BROADCAST_IP", "invalid IP address: "+broadcast)
	}

	ignored := make([]string, 0, len(f.IgnoredPaths))
	for _, p := range f.IgnoredPaths {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p == "" {
			return nil, fail("IGNORED_PATHS", "empty entry would ignore every path")
		}
		ignored = append(ignored, p)
	}

	return &domain.ServiceConfig{
		ID:           id,
		Hostname:     hostname,
		MAC:          mac,
		BroadcastIP:  broadcast,
		Host:         host,
		Port:         port,
		AppURL:       appURL,
		IgnoredPaths: ignored,
		Source:       rec.Path,
	}, nil
}

// serviceID derives the id from the file name.
// Example: "/app/configs/jellyfin.yml" -> "jellyfin"
func serviceID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
