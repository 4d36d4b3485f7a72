package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/wake"
)

const (
	// DefaultWakeTimeout is how long a host may stay waking before a warning is logged
	DefaultWakeTimeout = 5 * time.Minute
)

// Refresher is the part of the coordinator the watcher drives.
type Refresher interface {
	Snapshots() []wake.Snapshot
	Refresh(ctx context.Context, id string) (wake.State, bool)
}

// WakeWatcher re-probes services that are waking so the transition to online
// is observed (and logged) even when no client comes back to ask.
// It never sends wake packets.
type WakeWatcher struct {
	coord       Refresher
	logger      logger.Logger
	interval    time.Duration
	wakeTimeout time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}

	// wakingSince of the services already reported as slow
	warned map[string]time.Time
}

// NewWakeWatcher creates a watcher. An interval <= 0 disables it.
func NewWakeWatcher(coord Refresher, log logger.Logger, interval, wakeTimeout time.Duration) *WakeWatcher {
	if wakeTimeout <= 0 {
		wakeTimeout = DefaultWakeTimeout
	}
	return &WakeWatcher{
		coord:       coord,
		logger:      log,
		interval:    interval,
		wakeTimeout: wakeTimeout,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		warned:      make(map[string]time.Time),
	}
}

// Start runs the watch loop in the background.
func (w *WakeWatcher) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("wake watcher disabled")
		close(w.done)
		return
	}

	w.logger.Info("wake watcher started", logger.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Tick(ctx)
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the loop and waits for an in-flight tick to finish.
func (w *WakeWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// Tick refreshes every waking service once and returns how many it probed.
func (w *WakeWatcher) Tick(ctx context.Context) int {
	probed := 0
	for _, snap := range w.coord.Snapshots() {
		if snap.State != wake.StateWaking {
			delete(w.warned, snap.ServiceID)
			continue
		}
		if ctx.Err() != nil {
			return probed
		}

		state, ok := w.coord.Refresh(ctx, snap.ServiceID)
		if !ok {
			continue
		}
		probed++

		if state != wake.StateWaking {
			delete(w.warned, snap.ServiceID)
			continue
		}
		w.warnIfSlow(snap)
	}
	return probed
}

func (w *WakeWatcher) warnIfSlow(snap wake.Snapshot) {
	if snap.WakingSince.IsZero() {
		return
	}
	waited := w.now().Sub(snap.WakingSince)
	if waited < w.wakeTimeout {
		return
	}
	if seen, ok := w.warned[snap.ServiceID]; ok && seen.Equal(snap.WakingSince) {
		return
	}
	w.warned[snap.ServiceID] = snap.WakingSince
	w.logger.Warn("host still not reachable after wake",
		logger.String("service", snap.ServiceID),
		logger.Duration("waiting", waited),
		logger.Int("wakes_sent", snap.WakesSent))
}
