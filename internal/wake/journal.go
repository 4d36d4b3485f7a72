package wake

import (
	"context"
	"time"
)

// WakeEvent is one magic packet attempt, successful or not.
type WakeEvent struct {
	ServiceID   string    `json:"service_id"`
	Hostname    string    `json:"hostname"`
	MAC         string    `json:"mac"`
	BroadcastIP string    `json:"broadcast_ip"`
	ClientIP    string    `json:"client_ip,omitempty"`
	Path        string    `json:"path,omitempty"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}

// Journal keeps an audit trail of wake packets. It is never read back into
// coordinator state.
type Journal interface {
	RecordWake(ctx context.Context, event WakeEvent) error
}

// NopJournal discards events.
type NopJournal struct{}

func (NopJournal) RecordWake(context.Context, WakeEvent) error { return nil }
