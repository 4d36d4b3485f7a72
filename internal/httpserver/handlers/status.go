package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	redisstore "github.com/MrSnakeDoc/wakegate/internal/store/redis"
	"github.com/MrSnakeDoc/wakegate/internal/wake"
)

const recentWakesPerService = 5

type journalStatus struct {
	Enabled bool   `json:"enabled"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type serviceStatus struct {
	wake.Snapshot
	AppURL      string                `json:"app_url"`
	Stats       *redisstore.WakeStats `json:"journal_stats,omitempty"`
	RecentWakes []wake.WakeEvent      `json:"recent_wakes,omitempty"`
}

type statusResponse struct {
	Now      time.Time       `json:"now"`
	Cooldown string          `json:"cooldown"`
	Journal  journalStatus   `json:"journal"`
	Services []serviceStatus `json:"services"`
	Orphaned []string        `json:"orphaned_journals,omitempty"` // journaled but no longer configured
}

// Status exposes the wake state of every service and, when Redis is
// configured, the last few wake events of each.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := statusResponse{
			Now:      d.Now(),
			Cooldown: d.Coordinator.Cooldown().String(),
			Journal:  checkJournal(ctx, d),
		}

		for _, snap := range d.Coordinator.Snapshots() {
			st := serviceStatus{Snapshot: snap}
			if svc, ok := d.Registry.Get(snap.ServiceID); ok {
				st.AppURL = svc.URL()
			}
			if resp.Journal.OK {
				st.Stats, st.RecentWakes = journalFor(ctx, d, snap.ServiceID)
			}
			resp.Services = append(resp.Services, st)
		}
		if resp.Journal.OK {
			resp.Orphaned = orphanedJournals(ctx, d)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func checkJournal(ctx context.Context, d deps.Deps) journalStatus {
	if d.Journal == nil {
		return journalStatus{Enabled: false}
	}
	if err := d.Journal.Ping(ctx); err != nil {
		return journalStatus{Enabled: true, OK: false, Error: err.Error()}
	}
	return journalStatus{Enabled: true, OK: true}
}

func journalFor(ctx context.Context, d deps.Deps, id string) (*redisstore.WakeStats, []wake.WakeEvent) {
	stats, err := d.Journal.Stats(ctx, id)
	if err != nil {
		d.Logger.Warn("failed to read wake stats", logger.String("service", id), logger.Error(err))
		return nil, nil
	}
	events, err := d.Journal.RecentWakes(ctx, id, recentWakesPerService)
	if err != nil {
		d.Logger.Warn("failed to read wake events", logger.String("service", id), logger.Error(err))
		return &stats, nil
	}
	return &stats, events
}

func orphanedJournals(ctx context.Context, d deps.Deps) []string {
	ids, err := d.Journal.JournaledServices(ctx)
	if err != nil {
		d.Logger.Warn("failed to list journaled services", logger.Error(err))
		return nil
	}
	var orphaned []string
	for _, id := range ids {
		if _, ok := d.Registry.Get(id); !ok {
			orphaned = append(orphaned, id)
		}
	}
	return orphaned
}
