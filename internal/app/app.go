package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/wakegate/internal/config"
	"github.com/MrSnakeDoc/wakegate/internal/dispatch"
	"github.com/MrSnakeDoc/wakegate/internal/domain"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/wakegate/internal/httpserver/mw"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/redis"
	"github.com/MrSnakeDoc/wakegate/internal/registry"
	"github.com/MrSnakeDoc/wakegate/internal/render"
	"github.com/MrSnakeDoc/wakegate/internal/scheduler"
	"github.com/MrSnakeDoc/wakegate/internal/sources/services"
	redisstore "github.com/MrSnakeDoc/wakegate/internal/store/redis"
	"github.com/MrSnakeDoc/wakegate/internal/version"
	"github.com/MrSnakeDoc/wakegate/internal/wake"
	"github.com/MrSnakeDoc/wakegate/internal/wol"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	watcher     *scheduler.WakeWatcher
}

// New loads configuration and service files and wires every component.
// Any configuration error is returned; the process is expected to exit.
func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	svcs, err := loadServices(cfg.ServicesDir, loggerClient)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(svcs)
	if err != nil {
		return nil, fmt.Errorf("failed to index services: %w", err)
	}

	bypass, err := dispatch.ParseBypassMode(cfg.BypassMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	redisClient, journal := connectJournal(cfg, loggerClient)

	// A nil *Store must not reach the coordinator as a non-nil interface.
	var wakeJournal wake.Journal
	if journal != nil {
		wakeJournal = journal
	}

	coord := wake.NewCoordinator(
		reg.All(),
		&domain.TCPProber{Logger: loggerClient},
		wol.New(cfg.WOLPort, loggerClient),
		wakeJournal,
		loggerClient,
		wake.Options{
			ProbeTimeout: cfg.ProbeTimeout,
			SendTimeout:  cfg.SendTimeout,
			Cooldown:     cfg.WakeCooldown,
		},
	)

	renderer, err := render.New(templatesDir(cfg.TemplatesDir, loggerClient), loggerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	if len(cfg.AdminHosts) == 0 && len(cfg.AllowedCIDRS) == 0 {
		loggerClient.Warn("/_wakegate/status is reachable by anyone, set WAKEGATE_ADMIN_HOSTS or WAKEGATE_ALLOWED_CIDRS")
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AdminHosts:   cfg.AdminHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		RetryAfter:   cfg.RetryAfter,
		Registry:     reg,
		Coordinator:  coord,
		Dispatcher:   dispatch.New(reg, coord, bypass, loggerClient),
		Renderer:     renderer,
		Journal:      journal,
		RateLimit: mw.RateLimitConfig{
			Burst:             cfg.RateLimitBurst,
			RefillPerIPPerMin: cfg.RateLimitPerMin,
			MaxEntries:        10000,
			TrustProxy:        cfg.TrustProxy,
		},
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d),
		redisClient: redisClient,
		watcher:     scheduler.NewWakeWatcher(coord, loggerClient, cfg.WatchInterval, cfg.WakeTimeout),
	}, nil
}

func loadServices(dir string, log logger.Logger) ([]*domain.ServiceConfig, error) {
	records, err := services.NewLoader(dir).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}

	svcs, err := services.NewMapper().MapServices(records)
	if err != nil {
		return nil, fmt.Errorf("failed to map services: %w", err)
	}

	for _, svc := range svcs {
		log.Info("registered service",
			logger.String("service", svc.ID),
			logger.String("hostname", svc.Hostname),
			logger.String("probe", svc.ProbeAddr()),
			logger.String("mac", svc.MAC.String()),
			logger.Int("ignored_paths", len(svc.IgnoredPaths)))
	}
	log.Info("services loaded", logger.Int("count", len(svcs)), logger.String("dir", dir))

	return svcs, nil
}

// connectJournal opens Redis when configured. The journal is an audit trail
// only, so an unreachable Redis degrades to no journal instead of failing startup.
func connectJournal(cfg *config.Config, log logger.Logger) (*goredis.Client, *redisstore.Store) {
	client, err := redis.Connect(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	switch {
	case errors.Is(err, redis.ErrDisabled):
		log.Info("redis not configured, wake journal disabled")
		return nil, nil
	case err != nil:
		log.Error("redis unavailable, wake journal disabled", logger.Error(err))
		return nil, nil
	}

	log.Info("wake journal enabled", logger.Int("size", cfg.JournalSize))
	return client, redisstore.NewStore(client, cfg.JournalSize)
}

// templatesDir returns dir when it exists, "" otherwise (built-in page only).
func templatesDir(dir string, log logger.Logger) string {
	if dir == "" {
		return ""
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		log.Info("templates dir not found, using built-in page", logger.String("dir", dir))
		return ""
	}
	return dir
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting wakegate v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("wakegate %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.watcher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.watcher.Stop()
		return err
	}

	a.watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ wakegate stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
