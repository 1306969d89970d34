package limits

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// WindowConfig describes a fixed-window budget.
type WindowConfig struct {
	Limit  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter keyed by an arbitrary scope key.
// Exactly Limit requests are allowed per key per window; the budget resets
// when the window rolls over. Counters live in an LRU so a flood of distinct
// keys cannot grow memory without bound.
type Limiter struct {
	cfg   WindowConfig
	clock clock.Clock

	mu      sync.Mutex
	windows *lru.Cache[string, *window]
}

// NewLimiter creates a limiter. A zero or negative Limit disables limiting.
func NewLimiter(cfg WindowConfig, maxKeys int, clk clock.Clock) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	if clk == nil {
		clk = clock.New()
	}
	cache, _ := lru.New[string, *window](maxKeys)

	return &Limiter{
		cfg:     cfg,
		clock:   clk,
		windows: cache,
	}
}

// Allow consumes one unit of budget for key if any is left.
func (l *Limiter) Allow(key string) Decision {
	return l.check(key, true)
}

// Peek reports what Allow would return without consuming budget.
func (l *Limiter) Peek(key string) Decision {
	return l.check(key, false)
}

// Refund returns one unit previously consumed in the current window.
func (l *Limiter) Refund(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows.Get(key); ok && w.count > 0 {
		w.count--
	}
}

func (l *Limiter) check(key string, consume bool) Decision {
	now := l.clock.Now()
	if l.cfg.Limit <= 0 {
		return Decision{Allowed: true, Remaining: -1, ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.start.Add(l.cfg.Window)) {
		w = &window{start: now}
		if consume {
			l.windows.Add(key, w)
		}
	}
	resetAt := w.start.Add(l.cfg.Window)

	if w.count >= l.cfg.Limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	if consume {
		w.count++
	}
	remaining := l.cfg.Limit - w.count
	if !consume {
		remaining--
	}

	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.windows.Len()
}
