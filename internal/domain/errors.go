package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is wrapped by every ConfigError. Fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnknownService means no service is registered for a hostname.
	ErrUnknownService = errors.New("unknown service")
)

// ConfigError describes a malformed or missing service record.
type ConfigError struct {
	Source string // file (or "registry") the problem was found in
	Field  string // offending key, empty when the whole record is bad
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s: field %s: %s", e.Source, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// ProbeError is returned by CheckTCP when a backend cannot be reached.
// Callers treat it as "offline"; it never reaches a client.
type ProbeError struct {
	Addr string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Addr, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }
