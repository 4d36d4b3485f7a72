package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":5000"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request deadline, must exceed ProbeTimeout

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	ServicesDir  string // directory holding one <id>.yml per service
	TemplatesDir string // directory holding <id>.html and default.html (optional)

	// Wake behaviour
	ProbeTimeout  time.Duration // TCP probe timeout (default: 1s)
	SendTimeout   time.Duration // magic packet send timeout (default: 500ms)
	WakeCooldown  time.Duration // min time between two packets for one service (default: 40s)
	WOLPort       int           // UDP port of the magic packet (default: 9)
	WatchInterval time.Duration // re-probe interval for waking hosts, 0 disables (default: 10s)
	WakeTimeout   time.Duration // warn when a host stays waking longer than this (default: 5m)
	RetryAfter    time.Duration // Retry-After hint on the wait page (default: 5s)
	BypassMode    string        // "redirect" | "unavailable"

	// Rate limiting of the catch-all route, Burst 0 disables it
	RateLimitBurst  int
	RateLimitPerMin int

	// Redis wake journal, empty address disables it
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	JournalSize           int           // wake events kept per service

	// Access restrictions for the admin routes. /_wakegate/status shows MACs and
	// client IPs, so set at least one of them; with both empty the route is open.
	AdminHosts   []string // optional, restrict /_wakegate/* to specific Host headers
	AllowedCIDRS []string // optional, restrict /_wakegate/* to specific IPs (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-* headers set by the reverse proxy
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("WAKEGATE_LISTEN_PORT", ":5000"),
		ShutdownTimeout: mustDuration("WAKEGATE_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("WAKEGATE_REQUEST_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("WAKEGATE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("WAKEGATE_PRETTY_LOG", true),

		// Files
		ServicesDir:  getenv("WAKEGATE_SERVICES_DIR", "/app/configs"),
		TemplatesDir: getenv("WAKEGATE_TEMPLATES_DIR", "/app/templates"),

		// Wake behaviour
		ProbeTimeout:  mustDuration("WAKEGATE_PROBE_TIMEOUT", time.Second),
		SendTimeout:   mustDuration("WAKEGATE_SEND_TIMEOUT", 500*time.Millisecond),
		WakeCooldown:  mustDuration("WAKEGATE_WAKE_COOLDOWN", 40*time.Second),
		WOLPort:       getenvInt("WAKEGATE_WOL_PORT", 9),
		WatchInterval: mustDuration("WAKEGATE_WATCH_INTERVAL", 10*time.Second),
		WakeTimeout:   mustDuration("WAKEGATE_WAKE_TIMEOUT", 5*time.Minute),
		RetryAfter:    mustDuration("WAKEGATE_RETRY_AFTER", 5*time.Second),
		BypassMode:    strings.ToLower(getenv("WAKEGATE_BYPASS_MODE", "redirect")),

		RateLimitBurst:  getenvInt("WAKEGATE_RATE_LIMIT_BURST", 0),
		RateLimitPerMin: getenvInt("WAKEGATE_RATE_LIMIT_PER_MIN", 60),

		// Redis settings
		RedisAddr:             getenv("WAKEGATE_REDIS_ADDR", ""),
		RedisUser:             getenv("WAKEGATE_REDIS_USERNAME", ""),
		RedisPasswordRequired: mustBool("WAKEGATE_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("WAKEGATE_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("WAKEGATE_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
		JournalSize:           getenvInt("WAKEGATE_JOURNAL_SIZE", 50),

		// Access restrictions
		AdminHosts:   splitAndTrim(getenv("WAKEGATE_ADMIN_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("WAKEGATE_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("WAKEGATE_TRUST_PROXY", true),
	}

	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfg.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// JournalEnabled reports whether wake events go to Redis.
func (c *Config) JournalEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) validate() error {
	switch {
	case c.BypassMode != "redirect" && c.BypassMode != "unavailable":
		return fmt.Errorf("WAKEGATE_BYPASS_MODE must be redirect or unavailable, got %q", c.BypassMode)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("WAKEGATE_PROBE_TIMEOUT must be > 0, got %v", c.ProbeTimeout)
	case c.SendTimeout <= 0:
		return fmt.Errorf("WAKEGATE_SEND_TIMEOUT must be > 0, got %v", c.SendTimeout)
	case c.WakeCooldown <= 0:
		return fmt.Errorf("WAKEGATE_WAKE_COOLDOWN must be > 0, got %v", c.WakeCooldown)
	case c.RequestTimeout <= c.wakeBudget():
		return fmt.Errorf("WAKEGATE_REQUEST_TIMEOUT (%v) must be greater than WAKEGATE_PROBE_TIMEOUT + 2x WAKEGATE_SEND_TIMEOUT (%v)", c.RequestTimeout, c.wakeBudget())
	case c.WOLPort < 1 || c.WOLPort > 65535:
		return fmt.Errorf("WAKEGATE_WOL_PORT must be in 1..65535, got %d", c.WOLPort)
	case c.WatchInterval < 0:
		return fmt.Errorf("WAKEGATE_WATCH_INTERVAL must be >= 0, got %v", c.WatchInterval)
	case c.RateLimitBurst < 0:
		return fmt.Errorf("WAKEGATE_RATE_LIMIT_BURST must be >= 0, got %d", c.RateLimitBurst)
	case c.RedisPasswordRequired && c.RedisPassword == "":
		return fmt.Errorf("WAKEGATE_REDIS_PASSWORD is required when WAKEGATE_REDIS_PASSWORD_REQUIRED=true")
	}
	return nil
}

// wakeBudget is the longest an offline request can wait on its flight:
// the probe, the packet send and the journal write (bounded like the send).
func (c *Config) wakeBudget() time.Duration {
	return c.ProbeTimeout + 2*c.SendTimeout
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func mustBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid boolean value for %s: %s", key, v))
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid duration value for %s: %s", key, v))
	}
	return d
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
