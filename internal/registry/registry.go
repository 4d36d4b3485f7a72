package registry

import (
	"sort"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
)

// Registry maps request hostnames to service configs.
// It is built once and only read afterwards, so it needs no locking.
type Registry struct {
	byID       map[string]*domain.ServiceConfig // ID -> Service
	byHostname map[string]*domain.ServiceConfig // Hostname -> Service
	ordered    []*domain.ServiceConfig          // sorted by ID
}

// New indexes services. Duplicate IDs or hostnames are configuration errors.
func New(services []*domain.ServiceConfig) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]*domain.ServiceConfig, len(services)),
		byHostname: make(map[string]*domain.ServiceConfig, len(services)),
		ordered:    make([]*domain.ServiceConfig, 0, len(services)),
	}

	for _, svc := range services {
		if svc == nil {
			continue
		}
		if prev, ok := r.byID[svc.ID]; ok {
			return nil, &domain.ConfigError{
				Source: svc.Source,
				Reason: "service id " + svc.ID + " already defined by " + prev.Source,
			}
		}

		host := domain.NormalizeHostname(svc.Hostname)
		if prev, ok := r.byHostname[host]; ok {
			return nil, &domain.ConfigError{
				Source: svc.Source,
				Field:  "APP_URL",
				Reason: "hostname " + host + " already used by service " + prev.ID,
			}
		}

		r.byID[svc.ID] = svc
		r.byHostname[host] = svc
		r.ordered = append(r.ordered, svc)
	}

	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })

	return r, nil
}

// Resolve returns the service registered for hostname.
// The hostname may carry a port or a trailing dot and is matched case-insensitively.
func (r *Registry) Resolve(hostname string) (*domain.ServiceConfig, bool) {
	svc, ok := r.byHostname[domain.NormalizeHostname(hostname)]
	return svc, ok
}

// Get returns a service by ID.
func (r *Registry) Get(id string) (*domain.ServiceConfig, bool) {
	svc, ok := r.byID[id]
	return svc, ok
}

// All returns every service, sorted by ID.
func (r *Registry) All() []*domain.ServiceConfig {
	out := make([]*domain.ServiceConfig, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Count returns the number of registered services.
func (r *Registry) Count() int {
	return len(r.ordered)
}
