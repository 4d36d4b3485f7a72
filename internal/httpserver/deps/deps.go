package deps

import (
	"time"

	"github.com/MrSnakeDoc/wakegate/internal/dispatch"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/mw"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/registry"
	"github.com/MrSnakeDoc/wakegate/internal/render"
	redisstore "github.com/MrSnakeDoc/wakegate/internal/store/redis"
	"github.com/MrSnakeDoc/wakegate/internal/wake"
)

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AdminHosts   []string         // Host headers allowed to reach /_wakegate/*
	AllowedCIDRS []string         // IPs allowed to reach /_wakegate/*
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	RetryAfter   time.Duration    // Retry-After hint sent with the wait page

	Registry    *registry.Registry
	Coordinator *wake.Coordinator
	Dispatcher  *dispatch.Dispatcher
	Renderer    *render.Renderer
	Journal     *redisstore.Store // nil when the journal is disabled
	RateLimit   mw.RateLimitConfig
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
