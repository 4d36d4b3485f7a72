package redis

const (
	// KeyPrefixEvents is the prefix for the per-service list of wake events
	KeyPrefixEvents = "wakegate:wake:events:"
	// KeyPrefixStats is the prefix for the per-service wake counters hash
	KeyPrefixStats = "wakegate:wake:stats:"
	// KeyAllServices is the set of service IDs that have journal entries
	KeyAllServices = "wakegate:wake:services"

	fieldSent   = "sent"
	fieldFailed = "failed"
	fieldLastAt = "last_at"
)

// EventsKey returns the Redis key for a service's wake events
func EventsKey(id string) string {
	return KeyPrefixEvents + id
}

// StatsKey returns the Redis key for a service's wake counters
func StatsKey(id string) string {
	return KeyPrefixStats + id
}

// AllServicesKey returns the key for the set of journaled service IDs
func AllServicesKey() string {
	return KeyAllServices
}
