package limits

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrUnknownScope      = errors.New("unknown breaker scope")
)

// State is the state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// FailureWindow bounds how far apart the consecutive failures may be.
	// A failure arriving after the window restarts the count.
	FailureWindow time.Duration

	// Cooldown is how long the breaker stays open before allowing a trial call.
	Cooldown time.Duration

	// OnStateChange is called synchronously, outside the breaker lock.
	OnStateChange func(scope string, from, to State)
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// Breaker is a three-state circuit breaker for a single scope.
type Breaker struct {
	scope string
	cfg   BreakerConfig
	clock clock.Clock

	mu            sync.Mutex
	state         State
	failures      int
	firstFailure  time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(scope string, cfg BreakerConfig, clk clock.Clock) *Breaker {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		scope: scope,
		cfg:   cfg,
		clock: clk,
		state: StateClosed,
	}
}

// Allow reports whether a request may pass. While half-open exactly one
// caller is let through until its outcome is recorded or released.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var from, to State
	changed := false

	var err error
	switch b.state {
	case StateOpen:
		if b.clock.Since(b.openedAt) < b.cfg.Cooldown {
			err = ErrCircuitOpen
			break
		}
		from, to, changed = b.state, StateHalfOpen, true
		b.state = StateHalfOpen
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			err = ErrCircuitOpen
			break
		}
		b.trialInFlight = true
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return err
}

// Release gives back a half-open trial slot that was claimed by Allow but
// never exercised.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordSuccess closes a half-open breaker and clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.trialInFlight = false
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// RecordFailure counts a failure and opens the breaker once the threshold
// is reached. A failed half-open trial call reopens it immediately.
func (b *Breaker) RecordFailure() {
	now := b.clock.Now()

	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateHalfOpen:
		b.trip(now)
	case StateClosed:
		if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.FailureWindow {
			b.failures = 0
			b.firstFailure = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = 0
	b.trialInFlight = false
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// State returns the current state without triggering any transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAt returns when an open breaker will next admit a trial call.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		return b.openedAt.Add(b.cfg.Cooldown)
	}
	return b.clock.Now()
}

func (b *Breaker) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed && b.failures == 0
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.scope, from, to)
	}
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Scope    string `json:"scope"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Breakers holds one breaker per scope key, created on first use.
type Breakers struct {
	cfg   BreakerConfig
	clock clock.Clock

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewBreakers(cfg BreakerConfig, clk clock.Clock) *Breakers {
	if clk == nil {
		clk = clock.New()
	}
	return &Breakers{
		cfg:      cfg,
		clock:    clk,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for scope, creating it if needed.
func (r *Breakers) Get(scope string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[scope]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[scope]; ok {
		return b
	}
	b = NewBreaker(scope, r.cfg, r.clock)
	r.breakers[scope] = b
	return b
}

func (r *Breakers) RecordFailure(scope string) { r.Get(scope).RecordFailure() }

func (r *Breakers) RecordSuccess(scope string) { r.Get(scope).RecordSuccess() }

// Reset closes the breaker for scope. It returns an error when no breaker
// has ever been created for that scope.
func (r *Breakers) Reset(scope string) error {
	r.mu.RLock()
	b, ok := r.breakers[scope]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownScope
	}
	b.Reset()
	return nil
}

// Prune drops closed breakers with no failure streak.
func (r *Breakers) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for scope, b := range r.breakers {
		if b.idle() {
			delete(r.breakers, scope)
			removed++
		}
	}
	return removed
}

// Snapshot returns stats for every tracked breaker, sorted by scope.
func (r *Breakers) Snapshot() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for scope, b := range r.breakers {
		b.mu.Lock()
		stats = append(stats, BreakerStats{Scope: scope, State: b.state.String(), Failures: b.failures})
		b.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Scope < stats[j].Scope })
	return stats
}
