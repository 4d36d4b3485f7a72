// Package wake decides, per request, whether a backend gets a redirect, a wait page or
// a pass-through, and sends Wake-on-LAN packets without flooding the network.
package wake

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
)

const (
	DefaultProbeTimeout = time.Second
	DefaultSendTimeout  = 500 * time.Millisecond
	DefaultCooldown     = 40 * time.Second

	flightEvaluate = "evaluate"
	flightRefresh  = "refresh"
)

// Prober answers "is host:port reachable now?".
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) bool
}

// Signaler sends one magic packet.
type Signaler interface {
	SendMagicPacket(ctx context.Context, mac net.HardwareAddr, broadcastIP string) error
}

// Action is what the caller should do with a request.
type Action int

const (
	// ActionBypass: ignored path, nothing was probed or sent.
	ActionBypass Action = iota
	// ActionRedirect: the backend is up, send the client to it.
	ActionRedirect
	// ActionWait: the backend is down, show the waking page.
	ActionWait
)

func (a Action) String() string {
	switch a {
	case ActionBypass:
		return "bypass"
	case ActionRedirect:
		return "redirect"
	default:
		return "wait"
	}
}

// Request carries what the coordinator needs to know about an inbound request.
type Request struct {
	Path     string
	Method   string
	ClientIP string
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Action    Action
	ServiceID string
	URL       string // AppURL of the service
	State     State
	WakeSent  bool // a packet went out during the flight that produced this decision
	Shared    bool // the decision was shared with concurrent callers
}

// Options tune the coordinator. Zero values fall back to the defaults.
type Options struct {
	ProbeTimeout time.Duration
	SendTimeout  time.Duration
	Cooldown     time.Duration
	Now          func() time.Time // for testing, defaults to time.Now
}

// Coordinator owns the wake state of every service.
type Coordinator struct {
	states   sync.Map // service id -> *serviceState
	prober   Prober
	signaler Signaler
	journal  Journal
	logger   logger.Logger
	opts     Options
}

// outcome is what one probe flight produced.
type outcome struct {
	online   bool
	state    State
	wakeSent bool
}

// NewCoordinator creates state for every known service up front.
// journal may be nil.
func NewCoordinator(
	services []*domain.ServiceConfig,
	prober Prober,
	signaler Signaler,
	journal Journal,
	log logger.Logger,
	opts Options,
) *Coordinator {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if journal == nil {
		journal = NopJournal{}
	}

	c := &Coordinator{
		prober:   prober,
		signaler: signaler,
		journal:  journal,
		logger:   log,
		opts:     opts,
	}
	for _, svc := range services {
		c.states.Store(svc.ID, newServiceState(svc))
	}
	return c
}

// Cooldown returns the minimum time between two packets for one service.
func (c *Coordinator) Cooldown() time.Duration {
	return c.opts.Cooldown
}

func (c *Coordinator) stateFor(svc *domain.ServiceConfig) *serviceState {
	if st, ok := c.states.Load(svc.ID); ok {
		return st.(*serviceState)
	}
	st, _ := c.states.LoadOrStore(svc.ID, newServiceState(svc))
	return st.(*serviceState)
}

// Evaluate decides what to do with one request for svc. It never fails.
//
// Concurrent calls for the same service share one probe and one wake decision.
// That shared work is detached from ctx: when ctx ends first the caller gets
// ActionWait right away while the probe (and any packet) still completes.
func (c *Coordinator) Evaluate(ctx context.Context, svc *domain.ServiceConfig, req Request) Decision {
	st := c.stateFor(svc)

	if svc.IsIgnored(req.Path) {
		c.logger.Debug("ignored path, skipping wake logic",
			logger.String("service", svc.ID),
			logger.String("path", req.Path))
		return Decision{
			Action:    ActionBypass,
			ServiceID: svc.ID,
			URL:       svc.URL(),
			State:     st.current(),
		}
	}

	ch := st.flight.DoChan(flightEvaluate, func() (interface{}, error) {
		return c.observe(st, req, true), nil
	})

	select {
	case res := <-ch:
		out := res.Val.(outcome)
		d := Decision{
			ServiceID: svc.ID,
			URL:       svc.URL(),
			State:     out.state,
			WakeSent:  out.wakeSent,
			Shared:    res.Shared,
			Action:    ActionWait,
		}
		if out.online {
			d.Action = ActionRedirect
		}
		return d

	case <-ctx.Done():
		c.logger.Debug("client left before probe finished",
			logger.String("service", svc.ID),
			logger.Error(ctx.Err()))
		return Decision{
			Action:    ActionWait,
			ServiceID: svc.ID,
			URL:       svc.URL(),
			State:     st.current(),
		}
	}
}

// Refresh probes a service without ever sending a packet.
// It returns false for an unknown id.
func (c *Coordinator) Refresh(ctx context.Context, id string) (State, bool) {
	v, ok := c.states.Load(id)
	if !ok {
		return StateUnknown, false
	}
	st := v.(*serviceState)

	ch := st.flight.DoChan(flightRefresh, func() (interface{}, error) {
		return c.observe(st, Request{}, false), nil
	})

	select {
	case res := <-ch:
		return res.Val.(outcome).state, true
	case <-ctx.Done():
		return st.current(), true
	}
}

// observe runs one probe and applies the state machine.
func (c *Coordinator) observe(st *serviceState, req Request, allowWake bool) outcome {
	svc := st.svc

	seq := st.nextProbe()

	probeCtx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout)
	online := c.prober.Probe(probeCtx, svc.Host, svc.Port, c.opts.ProbeTimeout)
	cancel()

	now := c.opts.Now()

	st.mu.Lock()
	st.probes++
	if seq < st.appliedSeq {
		// A probe that started later has already been applied.
		current := outcome{online: st.online, state: st.state}
		st.mu.Unlock()
		c.logger.Debug("discarding stale probe result",
			logger.String("service", svc.ID),
			logger.Bool("online", online))
		return current
	}
	st.appliedSeq = seq
	st.lastProbe = now
	st.online = online

	prev := st.state
	wakingSince := st.wakingSince
	send := false
	if online {
		st.setLocked(StateOnline, now)
	} else {
		if st.state != StateWaking {
			st.setLocked(StateOffline, now)
		}
		// Check-and-set under the lock: one packet per cooldown window, however many callers.
		if allowWake && st.cooldownElapsedLocked(now, c.opts.Cooldown) {
			st.lastWake = now
			send = true
		}
	}
	state := st.state
	st.mu.Unlock()

	c.logTransition(svc, prev, state, now, wakingSince)

	if !send {
		return outcome{online: online, state: state}
	}

	err := c.sendWake(svc, req, now)

	st.mu.Lock()
	if err != nil {
		st.wakeFailures++
	} else {
		st.wakesSent++
		// A probe that ran meanwhile may already have seen the host up.
		if st.state == StateOffline {
			st.setLocked(StateWaking, now)
		}
	}
	state = st.state
	st.mu.Unlock()

	return outcome{online: online, state: state, wakeSent: err == nil}
}

// sendWake sends the packet and journals it. The send timer has already been
// consumed by the caller, so a failure does not lead to an immediate retry.
func (c *Coordinator) sendWake(svc *domain.ServiceConfig, req Request, now time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()

	err := c.signaler.SendMagicPacket(ctx, svc.MAC, svc.BroadcastIP)

	event := WakeEvent{
		ServiceID:   svc.ID,
		Hostname:    svc.Hostname,
		MAC:         svc.MAC.String(),
		BroadcastIP: svc.BroadcastIP,
		ClientIP:    req.ClientIP,
		Path:        req.Path,
		At:          now,
	}

	if err != nil {
		event.Error = err.Error()
		c.logger.Warn("failed to send wake packet",
			logger.String("service", svc.ID),
			logger.String("mac", event.MAC),
			logger.String("broadcast", svc.BroadcastIP),
			logger.Error(err))
	} else {
		c.logger.Info("wake packet sent",
			logger.String("service", svc.ID),
			logger.String("mac", event.MAC),
			logger.String("broadcast", svc.BroadcastIP),
			logger.String("client_ip", req.ClientIP),
			logger.String("path", req.Path))
	}

	jctx, jcancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer jcancel()
	if jerr := c.journal.RecordWake(jctx, event); jerr != nil {
		c.logger.Debug("failed to journal wake event",
			logger.String("service", svc.ID),
			logger.Error(jerr))
	}

	return err
}

func (c *Coordinator) logTransition(svc *domain.ServiceConfig, prev, next State, now, wakingSince time.Time) {
	if prev == next {
		return
	}
	switch {
	case prev == StateWaking && next == StateOnline && !wakingSince.IsZero():
		c.logger.Info("service is up after wake",
			logger.String("service", svc.ID),
			logger.Duration("woke_after", now.Sub(wakingSince)))
	case prev == StateOnline && next == StateOffline:
		c.logger.Info("service went offline",
			logger.String("service", svc.ID))
	default:
		c.logger.Debug("service state changed",
			logger.String("service", svc.ID),
			logger.String("from", prev.String()),
			logger.String("to", next.String()))
	}
}

// Snapshot returns a copy of one service's state.
func (c *Coordinator) Snapshot(id string) (Snapshot, bool) {
	v, ok := c.states.Load(id)
	if !ok {
		return Snapshot{}, false
	}
	return v.(*serviceState).snapshot(c.opts.Cooldown), true
}

// Snapshots returns a copy of every service's state, sorted by service id.
func (c *Coordinator) Snapshots() []Snapshot {
	var out []Snapshot
	c.states.Range(func(_, v any) bool {
		out = append(out, v.(*serviceState).snapshot(c.opts.Cooldown))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}
