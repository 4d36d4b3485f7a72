package wake

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
)

// State is the coordinator's view of a backend.
type State int

const (
	StateUnknown State = iota
	StateOffline
	StateWaking
	StateOnline
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateWaking:
		return "waking"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots encode states as strings in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of one service's wake state.
type Snapshot struct {
	ServiceID    string    `json:"service_id"`
	Hostname     string    `json:"hostname"`
	State        State     `json:"state"`
	Online       bool      `json:"online"`
	LastProbe    time.Time `json:"last_probe,omitzero"`
	LastWake     time.Time `json:"last_wake,omitzero"`
	LastChange   time.Time `json:"last_change,omitzero"`
	WakingSince  time.Time `json:"waking_since,omitzero"`
	NextWakeAt   time.Time `json:"next_wake_at,omitzero"`
	Probes       int       `json:"probes"`
	WakesSent    int       `json:"wakes_sent"`
	WakeFailures int       `json:"wake_failures"`
}

// serviceState is the mutable state of one service.
// Every field below mu is guarded by it; flight coalesces probes for this service only.
type serviceState struct {
	svc    *domain.ServiceConfig
	flight singleflight.Group

	mu           sync.Mutex
	state        State
	online       bool
	lastProbe    time.Time
	lastWake     time.Time
	lastChange   time.Time
	wakingSince  time.Time
	probes       int
	wakesSent    int
	wakeFailures int

	// probeSeq numbers probes in start order; appliedSeq is the newest one applied.
	probeSeq   uint64
	appliedSeq uint64
}

func newServiceState(svc *domain.ServiceConfig) *serviceState {
	return &serviceState{svc: svc}
}

// setLocked moves to next. Caller holds mu.
func (st *serviceState) setLocked(next State, now time.Time) {
	prev := st.state
	if prev != next {
		st.state = next
		st.lastChange = now
	}
	if next == StateWaking && prev != StateWaking {
		st.wakingSince = now
	}
	if next != StateWaking {
		st.wakingSince = time.Time{}
	}
}

// cooldownElapsedLocked reports whether a new packet may go out at now.
// The window is closed on the low end: exactly cooldown after the last packet re-sends.
func (st *serviceState) cooldownElapsedLocked(now time.Time, cooldown time.Duration) bool {
	return st.lastWake.IsZero() || now.Sub(st.lastWake) >= cooldown
}

// nextProbe reserves a sequence number for a probe about to start.
func (st *serviceState) nextProbe() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.probeSeq++
	return st.probeSeq
}

func (st *serviceState) current() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

func (st *serviceState) snapshot(cooldown time.Duration) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := Snapshot{
		ServiceID:    st.svc.ID,
		Hostname:     st.svc.Hostname,
		State:        st.state,
		Online:       st.online,
		LastProbe:    st.lastProbe,
		LastWake:     st.lastWake,
		LastChange:   st.lastChange,
		WakingSince:  st.wakingSince,
		Probes:       st.probes,
		WakesSent:    st.wakesSent,
		WakeFailures: st.wakeFailures,
	}
	if !st.lastWake.IsZero() {
		s.NextWakeAt = st.lastWake.Add(cooldown)
	}
	return s
}
