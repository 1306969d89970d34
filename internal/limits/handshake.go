package limits

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HandshakeLimiterConfig bounds how fast new connections may be opened.
type HandshakeLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	GlobalBurst int
	GlobalRate  float64
	MaxIPs      int
	Logger      zerolog.Logger
}

// HandshakeLimiter throttles connection attempts per remote IP and globally
// with token buckets, so a reconnect storm cannot exhaust the accept path.
type HandshakeLimiter struct {
	mu     sync.Mutex
	ips    *lru.Cache[string, *rate.Limiter]
	global *rate.Limiter

	ipRate  rate.Limit
	ipBurst int
	logger  zerolog.Logger
}

func NewHandshakeLimiter(cfg HandshakeLimiterConfig) *HandshakeLimiter {
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate <= 0 {
		cfg.IPRate = 1
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = 50
	}
	if cfg.MaxIPs <= 0 {
		cfg.MaxIPs = 50000
	}
	ips, _ := lru.New[string, *rate.Limiter](cfg.MaxIPs)

	return &HandshakeLimiter{
		ips:     ips,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		ipRate:  rate.Limit(cfg.IPRate),
		ipBurst: cfg.IPBurst,
		logger:  cfg.Logger.With().Str("component", "handshake_limiter").Logger(),
	}
}

// Allow reports whether a connection attempt from ip may proceed.
func (h *HandshakeLimiter) Allow(ip string) bool {
	h.mu.Lock()
	limiter, ok := h.ips.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(h.ipRate, h.ipBurst)
		h.ips.Add(ip, limiter)
	}
	h.mu.Unlock()

	if !limiter.Allow() {
		h.logger.Debug().Str("ip", ip).Msg("handshake rejected by per-ip limit")
		return false
	}
	if !h.global.Allow() {
		h.logger.Warn().Str("ip", ip).Msg("handshake rejected by global limit")
		return false
	}
	return true
}
