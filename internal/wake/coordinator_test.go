package wake

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
)

// fakeProber reports the same reachability for every host. A probe for a host
// listed in gates blocks until that channel is closed.
type fakeProber struct {
	online  atomic.Bool
	calls   atomic.Int32
	gates   map[string]chan struct{}
	started chan string
}

func (p *fakeProber) Probe(_ context.Context, host string, _ int, _ time.Duration) bool {
	p.calls.Add(1)
	if p.started != nil {
		select {
		case p.started <- host:
		default:
		}
	}
	if gate, ok := p.gates[host]; ok {
		<-gate
	}
	return p.online.Load()
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSignaler) SendMagicPacket(_ context.Context, mac net.HardwareAddr, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, mac.String())
	return s.err
}

func (s *fakeSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSignaler) macs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memJournal struct {
	mu     sync.Mutex
	events []WakeEvent
}

func (j *memJournal) RecordWake(_ context.Context, e WakeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func jellyfin(t *testing.T) *domain.ServiceConfig {
	t.Helper()
	mac, err := net.ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)
	u, err := url.Parse("http://jellyfin.local:8096")
	require.NoError(t, err)

	return &domain.ServiceConfig{
		ID:           "jellyfin",
		Hostname:     "jellyfin.local",
		MAC:          mac,
		BroadcastIP:  "192.168.1.255",
		Host:         "192.168.1.10",
		Port:         8096,
		AppURL:       u,
		IgnoredPaths: []string{"api/system/status"},
	}
}

func nas(t *testing.T) *domain.ServiceConfig {
	t.Helper()
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	u, err := url.Parse("https://nas.home.lan")
	require.NoError(t, err)

	return &domain.ServiceConfig{
		ID:          "nas",
		Hostname:    "nas.home.lan",
		MAC:         mac,
		BroadcastIP: "255.255.255.255",
		Host:        "192.168.1.20",
		Port:        22,
		AppURL:      u,
	}
}

type fixture struct {
	c        *Coordinator
	prober   *fakeProber
	signaler *fakeSignaler
	clock    *fakeClock
	journal  *memJournal
}

func newFixture(t *testing.T, cooldown time.Duration, services ...*domain.ServiceConfig) *fixture {
	t.Helper()
	f := &fixture{
		prober:   &fakeProber{},
		signaler: &fakeSignaler{},
		clock:    newFakeClock(),
		journal:  &memJournal{},
	}
	f.c = NewCoordinator(services, f.prober, f.signaler, f.journal, logger.NewNop(), Options{
		Cooldown: cooldown,
		Now:      f.clock.Now,
	})
	return f
}

func TestEvaluate_OfflineSendsOnePacket(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/", ClientIP: "10.0.0.2"})

	assert.Equal(t, ActionWait, d.Action)
	assert.True(t, d.WakeSent)
	assert.Equal(t, StateWaking, d.State)
	assert.Equal(t, []string{"00:11:22:33:44:55"}, f.signaler.macs())

	snap, ok := f.c.Snapshot("jellyfin")
	require.True(t, ok)
	assert.Equal(t, StateWaking, snap.State)
	assert.Equal(t, 1, snap.WakesSent)
	assert.Equal(t, f.clock.Now(), snap.LastWake)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), snap.NextWakeAt)
}

func TestEvaluate_BecomesReachable(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	require.Equal(t, ActionWait, d.Action)

	f.prober.online.Store(true)
	f.clock.Advance(10 * time.Second)

	d = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "http://jellyfin.local:8096", d.URL)
	assert.Equal(t, StateOnline, d.State)
	assert.Equal(t, 1, f.signaler.count())
}

func TestEvaluate_IgnoredPathSkipsEverything(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	for _, online := range []bool{false, true} {
		f.prober.online.Store(online)
		d := f.c.Evaluate(context.Background(), svc, Request{Path: "/api/system/status"})

		assert.Equal(t, ActionBypass, d.Action)
		assert.Equal(t, "http://jellyfin.local:8096", d.URL)
	}

	assert.Equal(t, int32(0), f.prober.calls.Load(), "ignored paths must not probe")
	assert.Equal(t, 0, f.signaler.count(), "ignored paths must not wake")
}

func TestEvaluate_OnlineIsIdempotent(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	f.prober.online.Store(true)

	for i := 0; i < 10; i++ {
		d := f.c.Evaluate(context.Background(), svc, Request{Path: "/web"})
		require.Equal(t, ActionRedirect, d.Action)
		assert.False(t, d.WakeSent)
		f.clock.Advance(time.Minute)
	}

	assert.Equal(t, 0, f.signaler.count())
	snap, _ := f.c.Snapshot("jellyfin")
	assert.Equal(t, StateOnline, snap.State)
	assert.Equal(t, 10, snap.Probes)
}

func TestEvaluate_OnlineThenUnreachableGoesOffline(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	// Wake once so the next offline observation is inside the cooldown window.
	f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	f.clock.Advance(5 * time.Second)

	f.prober.online.Store(true)
	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	require.Equal(t, StateOnline, d.State)

	f.clock.Advance(5 * time.Second)
	f.prober.online.Store(false)
	d = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})

	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, StateOffline, d.State)
	assert.False(t, d.WakeSent)
	assert.Equal(t, 1, f.signaler.count())
}

func TestEvaluate_OnlineThenUnreachableWakesAgainAfterCooldown(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	f.prober.online.Store(true)

	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	require.Equal(t, StateOnline, d.State)

	f.prober.online.Store(false)
	d = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})

	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, StateWaking, d.State)
	assert.Equal(t, 1, f.signaler.count())
}

func TestEvaluate_CooldownBoundary(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	require.Equal(t, 1, f.signaler.count())

	f.clock.Advance(30*time.Second - time.Nanosecond)
	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.False(t, d.WakeSent)
	assert.Equal(t, 1, f.signaler.count(), "inside the window: no packet")

	f.clock.Advance(time.Nanosecond)
	d = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.True(t, d.WakeSent)
	assert.Equal(t, 2, f.signaler.count(), "exactly at the boundary: re-send")
	assert.Equal(t, StateWaking, d.State)
}

func TestEvaluate_ConcurrentRequestsSendOnePacket(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	gate := make(chan struct{})
	f.prober.gates = map[string]chan struct{}{svc.Host: gate}

	const n = 50
	var wg sync.WaitGroup
	decisions := make([]Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
		}(i)
	}
	close(gate)
	wg.Wait()

	for _, d := range decisions {
		assert.Equal(t, ActionWait, d.Action)
	}
	assert.Equal(t, 1, f.signaler.count(), "50 concurrent requests in one window")
	assert.LessOrEqual(t, f.prober.calls.Load(), int32(n))

	// Once the window has elapsed the next request sends a second packet.
	f.clock.Advance(30 * time.Second)
	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.True(t, d.WakeSent)
	assert.Equal(t, 2, f.signaler.count())
}

func TestEvaluate_ConcurrentRequestsShareOneProbe(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	gate := make(chan struct{})
	f.prober.gates = map[string]chan struct{}{svc.Host: gate}
	f.prober.started = make(chan string, 1)

	first := make(chan Decision, 1)
	go func() { first <- f.c.Evaluate(context.Background(), svc, Request{Path: "/"}) }()
	<-f.prober.started

	// The flight is in progress: followers join it instead of probing.
	const followers = 10
	var wg sync.WaitGroup
	var shared atomic.Int32
	for i := 0; i < followers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"}); d.Shared {
				shared.Add(1)
			}
		}()
	}

	// Give followers time to join before releasing the probe.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	<-first

	assert.Equal(t, 1, f.signaler.count())
	assert.Less(t, f.prober.calls.Load(), int32(followers+1))
	assert.Positive(t, shared.Load())
}

func TestEvaluate_SendFailureStillConsumesCooldown(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	f.signaler.err = errors.New("network unreachable")

	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.Equal(t, ActionWait, d.Action)
	assert.False(t, d.WakeSent)
	assert.Equal(t, StateOffline, d.State)

	f.clock.Advance(10 * time.Second)
	d = f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, 1, f.signaler.count(), "failed attempt must not be retried inside the window")

	snap, _ := f.c.Snapshot("jellyfin")
	assert.Equal(t, 1, snap.WakeFailures)
	assert.Equal(t, 0, snap.WakesSent)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	require.Len(t, f.journal.events, 1)
	assert.Contains(t, f.journal.events[0].Error, "network unreachable")
}

func TestEvaluate_ClientLeavesWorkStillCompletes(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)
	gate := make(chan struct{})
	f.prober.gates = map[string]chan struct{}{svc.Host: gate}
	f.prober.started = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Decision, 1)
	go func() { done <- f.c.Evaluate(ctx, svc, Request{Path: "/"}) }()

	<-f.prober.started
	cancel()

	select {
	case d := <-done:
		assert.Equal(t, ActionWait, d.Action)
	case <-time.After(time.Second):
		t.Fatal("Evaluate did not return after the client left")
	}
	assert.Equal(t, 0, f.signaler.count())

	close(gate)
	assert.Eventually(t, func() bool { return f.signaler.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		snap, _ := f.c.Snapshot("jellyfin")
		return snap.State == StateWaking
	}, time.Second, 5*time.Millisecond)
}

func TestEvaluate_ServicesDoNotBlockEachOther(t *testing.T) {
	a, b := jellyfin(t), nas(t)
	f := newFixture(t, 30*time.Second, a, b)
	gate := make(chan struct{})
	defer close(gate)
	f.prober.gates = map[string]chan struct{}{a.Host: gate}
	f.prober.started = make(chan string, 1)

	go f.c.Evaluate(context.Background(), a, Request{Path: "/"})
	require.Equal(t, a.Host, <-f.prober.started)

	done := make(chan Decision, 1)
	go func() { done <- f.c.Evaluate(context.Background(), b, Request{Path: "/"}) }()

	select {
	case d := <-done:
		assert.Equal(t, "nas", d.ServiceID)
		assert.True(t, d.WakeSent)
	case <-time.After(time.Second):
		t.Fatal("a slow probe on one service blocked another service")
	}
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, f.signaler.macs())
}

func TestEvaluate_LazyStateForUnregisteredService(t *testing.T) {
	f := newFixture(t, 30*time.Second)
	svc := nas(t)

	_, ok := f.c.Snapshot("nas")
	require.False(t, ok)

	d := f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.Equal(t, ActionWait, d.Action)

	snap, ok := f.c.Snapshot("nas")
	require.True(t, ok)
	assert.Equal(t, StateWaking, snap.State)
}

func TestEvaluate_JournalsWake(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	f.c.Evaluate(context.Background(), svc, Request{Path: "/web/index.html", ClientIP: "10.0.0.7"})

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	require.Len(t, f.journal.events, 1)
	e := f.journal.events[0]
	assert.Equal(t, "jellyfin", e.ServiceID)
	assert.Equal(t, "00:11:22:33:44:55", e.MAC)
	assert.Equal(t, "10.0.0.7", e.ClientIP)
	assert.Equal(t, "/web/index.html", e.Path)
	assert.Empty(t, e.Error)
}

func TestRefresh_NeverWakes(t *testing.T) {
	svc := jellyfin(t)
	f := newFixture(t, 30*time.Second, svc)

	state, ok := f.c.Refresh(context.Background(), "jellyfin")
	require.True(t, ok)
	assert.Equal(t, StateOffline, state)
	assert.Equal(t, 0, f.signaler.count())

	f.c.Evaluate(context.Background(), svc, Request{Path: "/"})
	f.prober.online.Store(true)

	state, _ = f.c.Refresh(context.Background(), "jellyfin")
	assert.Equal(t, StateOnline, state)

	_, ok = f.c.Refresh(context.Background(), "missing")
	assert.False(t, ok)
}

// scriptedProber answers probes in call order. A step with a gate blocks until
// the gate is closed; started is closed when the step begins.
type scriptedProber struct {
	mu    sync.Mutex
	steps []probeStep
	calls int
}

type probeStep struct {
	online  bool
	gate    chan struct{}
	started chan struct{}
}

func (p *scriptedProber) Probe(context.Context, string, int, time.Duration) bool {
	p.mu.Lock()
	step := p.steps[p.calls]
	p.calls++
	p.mu.Unlock()

	if step.started != nil {
		close(step.started)
	}
	if step.gate != nil {
		<-step.gate
	}
	return step.online
}

func TestRefresh_SlowFailedProbeDoesNotOverrideNewerOnline(t *testing.T) {
	svc := jellyfin(t)
	gate := make(chan struct{})
	started := make(chan struct{})
	prober := &scriptedProber{steps: []probeStep{
		{online: false},                               // first request: host asleep
		{online: false, gate: gate, started: started}, // watcher refresh, slow
		{online: true},                                // second request: host up
	}}
	signaler := &fakeSignaler{}
	clock := newFakeClock()
	c := NewCoordinator([]*domain.ServiceConfig{svc}, prober, signaler, nil, logger.NewNop(), Options{
		Cooldown: 30 * time.Second,
		Now:      clock.Now,
	})

	d := c.Evaluate(context.Background(), svc, Request{Path: "/"})
	require.Equal(t, StateWaking, d.State)

	refreshed := make(chan State, 1)
	go func() {
		state, _ := c.Refresh(context.Background(), svc.ID)
		refreshed <- state
	}()
	<-started

	clock.Advance(5 * time.Second)
	d = c.Evaluate(context.Background(), svc, Request{Path: "/"})
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, StateOnline, d.State)

	close(gate)
	assert.Equal(t, StateOnline, <-refreshed)

	snap, ok := c.Snapshot(svc.ID)
	require.True(t, ok)
	assert.Equal(t, StateOnline, snap.State)
	assert.True(t, snap.Online)
	assert.Equal(t, 3, snap.Probes)
	assert.Equal(t, 1, signaler.count())
}

func TestSnapshotsSorted(t *testing.T) {
	f := newFixture(t, 0, nas(t), jellyfin(t))

	snaps := f.c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "jellyfin", snaps[0].ServiceID)
	assert.Equal(t, "nas", snaps[1].ServiceID)
	assert.Equal(t, StateUnknown, snaps[0].State)
	assert.True(t, snaps[0].NextWakeAt.IsZero())
	assert.Equal(t, DefaultCooldown, f.c.Cooldown())
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnknown: "unknown",
		StateOffline: "offline",
		StateWaking:  "waking",
		StateOnline:  "online",
	}
	for s, want := range tests {
		text, err := s.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(text))
	}
}
