// Package ratelimit provides per-client request limiting using token buckets.
package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EndpointConfig is the rate limit for one endpoint. Paths ending with "/"
// match by prefix, so "/runs/" covers "/runs/{id}/start".
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int // requests per window; <= 0 means unlimited
	Window time.Duration
	Burst  int // defaults to Limit when 0
}

// Config holds limiter configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	EndpointConfigs []EndpointConfig
}

// LoadConfig reads limiter configuration from environment variables.
func LoadConfig() *Config {
	if !getEnvBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint tiers. Evaluation runs burn
// LLM quota, so starting one is limited far more strictly than reads.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Expensive: each start fans out to the model for every applicant.
		{Path: "/runs/", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/runs", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},

		// Writes: overrides and cancellations.
		{Path: "/applicants/", Method: "PUT", Limit: 120, Window: time.Minute, Burst: 20},

		// Reads: status polling and reports.
		{Path: "/runs/", Method: "GET", Limit: 600, Window: time.Minute, Burst: 60},
		{Path: "/runs", Method: "GET", Limit: 600, Window: time.Minute, Burst: 60},
	}
}

// MatchEndpoint finds the configured limit for a path and method. Exact
// matches win over prefix matches; /health is never limited.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		return &EndpointConfig{Limit: 0}
	}
	for i := range configs {
		if configs[i].Path == path && configs[i].Method == method {
			return &configs[i]
		}
	}
	for i := range configs {
		c := &configs[i]
		if c.Method == method && strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			return c
		}
	}
	return nil
}

// Info reports the outcome of a limit check.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// take refills from elapsed time, then consumes one token if available.
func (tb *tokenBucket) take() (allowed bool, remaining int, reset time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.lastRefill).Seconds()*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		allowed = true
	}

	remaining = int(tb.tokens)
	reset = now
	if tb.tokens < tb.capacity {
		secondsUntilFull := (tb.capacity - tb.tokens) / tb.refillRate
		reset = now.Add(time.Duration(secondsUntilFull * float64(time.Second)))
	}
	return allowed, remaining, reset
}

// Limiter tracks one token bucket per client+endpoint combination.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	lastAccess map[string]time.Time
	config     *Config
	stop       chan struct{}
	ticker     *time.Ticker
}

// NewLimiter creates a limiter and starts its bucket cleanup goroutine.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:       true,
			DefaultLimit:  1000,
			DefaultWindow: time.Minute,
		}
	}
	l := &Limiter{
		buckets:    make(map[string]*tokenBucket),
		lastAccess: make(map[string]time.Time),
		config:     config,
	}
	if config.Enabled && config.CleanupInterval > 0 {
		l.ticker = time.NewTicker(config.CleanupInterval)
		l.stop = make(chan struct{})
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether a request from clientID to the endpoint may proceed.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.config.Enabled {
		return true, Info{Allowed: true}
	}

	cfg := MatchEndpoint(path, method, l.config.EndpointConfigs)
	if cfg == nil {
		cfg = &EndpointConfig{
			Limit:  l.config.DefaultLimit,
			Window: l.config.DefaultWindow,
		}
	}
	if cfg.Limit <= 0 {
		return true, Info{Allowed: true}
	}

	key := clientID + ":" + path + ":" + method
	allowed, remaining, reset := l.bucket(key, cfg).take()

	info := Info{
		Allowed:   allowed,
		Limit:     cfg.Limit,
		Remaining: remaining,
		ResetTime: reset,
	}
	if !allowed {
		info.RetryAfter = max(time.Until(reset), 0)
	}
	return allowed, info
}

func (l *Limiter) bucket(key string, cfg *EndpointConfig) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastAccess[key] = time.Now()
	if b, ok := l.buckets[key]; ok {
		return b
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Limit
	}
	b := newTokenBucket(burst, float64(cfg.Limit)/cfg.Window.Seconds())
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.removeStale(time.Now().Add(-1 * time.Hour))
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) removeStale(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.buckets, key)
			delete(l.lastAccess, key)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	if l.stop != nil {
		close(l.stop)
	}
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
