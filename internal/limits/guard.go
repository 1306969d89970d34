package limits

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// Scope names one of the independent budgets every request is checked against.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeOrigin Scope = "origin"
)

// Denial reasons reported to clients.
const (
	ReasonRateLimited = "rate_limited"
	ReasonCircuitOpen = "circuit_open"
)

// ScopeKey builds the limiter and breaker key for a scope.
func ScopeKey(scope Scope, identity string) string {
	if scope == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(scope) + ":" + identity
}

// Denial describes one scope that rejected a request.
type Denial struct {
	Scope   Scope     `json:"scope"`
	Reason  string    `json:"reason"`
	ResetAt time.Time `json:"resetAt"`
}

// Verdict is the combined outcome of the global, user and origin checks.
type Verdict struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Denials   []Denial  `json:"denials,omitempty"`
}

// Err returns nil for an allowed verdict. Otherwise it wraps ErrCircuitOpen
// when any scope was rejected by its breaker, else ErrRateLimitExceeded.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	sentinel := ErrRateLimitExceeded
	scopes := make([]string, 0, len(v.Denials))
	for _, d := range v.Denials {
		if d.Reason == ReasonCircuitOpen {
			sentinel = ErrCircuitOpen
		}
		scopes = append(scopes, string(d.Scope))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(scopes, ","))
}

// GuardConfig holds the per-scope budgets.
type GuardConfig struct {
	Global  WindowConfig
	User    WindowConfig
	Origin  WindowConfig
	MaxKeys int
}

// Guard combines the three scope limiters with their circuit breakers.
type Guard struct {
	global   *Limiter
	user     *Limiter
	origin   *Limiter
	breakers *Breakers
	clock    clock.Clock
}

func NewGuard(cfg GuardConfig, breakers *Breakers, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	if breakers == nil {
		breakers = NewBreakers(BreakerConfig{}, clk)
	}
	return &Guard{
		global:   NewLimiter(cfg.Global, 1, clk),
		user:     NewLimiter(cfg.User, cfg.MaxKeys, clk),
		origin:   NewLimiter(cfg.Origin, cfg.MaxKeys, clk),
		breakers: breakers,
		clock:    clk,
	}
}

// Breakers exposes the breaker registry for administrative resets.
func (g *Guard) Breakers() *Breakers {
	return g.breakers
}

type scopeCheck struct {
	scope   Scope
	key     string
	limiter *Limiter
}

// Allow checks global, user and origin in that order. A request passes only
// when all three allow it. Budget consumed by earlier scopes is refunded when
// a later scope denies, and every denying scope is reported.
func (g *Guard) Allow(userID, origin string) Verdict {
	checks := []scopeCheck{
		{ScopeGlobal, ScopeKey(ScopeGlobal, ""), g.global},
		{ScopeUser, ScopeKey(ScopeUser, userID), g.user},
		{ScopeOrigin, ScopeKey(ScopeOrigin, origin), g.origin},
	}
	return g.evaluate(checks)
}

// AllowGlobal checks only the global scope. Service-side publishes use it.
func (g *Guard) AllowGlobal() Verdict {
	return g.evaluate([]scopeCheck{{ScopeGlobal, ScopeKey(ScopeGlobal, ""), g.global}})
}

// AllowUser checks the global and user scopes. Server-side pushes addressed
// to one user use it, since they carry no client origin.
func (g *Guard) AllowUser(userID string) Verdict {
	return g.evaluate([]scopeCheck{
		{ScopeGlobal, ScopeKey(ScopeGlobal, ""), g.global},
		{ScopeUser, ScopeKey(ScopeUser, userID), g.user},
	})
}

func (g *Guard) evaluate(checks []scopeCheck) Verdict {
	verdict := Verdict{Allowed: true, Remaining: -1}
	var claimed []*Breaker
	var consumed []scopeCheck

	for _, c := range checks {
		b := g.breakers.Get(c.key)
		if err := b.Allow(); err != nil {
			verdict.deny(c.scope, ReasonCircuitOpen, b.RetryAt())
			continue
		}
		claimed = append(claimed, b)

		var d Decision
		if verdict.Allowed {
			d = c.limiter.Allow(c.key)
			if d.Allowed {
				consumed = append(consumed, c)
			}
		} else {
			d = c.limiter.Peek(c.key)
		}
		if !d.Allowed {
			verdict.deny(c.scope, ReasonRateLimited, d.ResetAt)
			continue
		}
		if !verdict.Allowed {
			continue
		}
		if d.Remaining >= 0 && (verdict.Remaining < 0 || d.Remaining < verdict.Remaining) {
			verdict.Remaining = d.Remaining
		}
		if d.ResetAt.After(verdict.ResetAt) {
			verdict.ResetAt = d.ResetAt
		}
	}

	if !verdict.Allowed {
		for _, c := range consumed {
			c.limiter.Refund(c.key)
		}
		for _, b := range claimed {
			b.Release()
		}
		verdict.Remaining = 0
	}
	return verdict
}

func (v *Verdict) deny(scope Scope, reason string, resetAt time.Time) {
	if v.Allowed {
		v.ResetAt = time.Time{}
	}
	v.Allowed = false
	v.Denials = append(v.Denials, Denial{Scope: scope, Reason: reason, ResetAt: resetAt})
	if resetAt.After(v.ResetAt) {
		v.ResetAt = resetAt
	}
}

// Record feeds the outcome of an allowed request back into the breakers.
// Failures count against the user and origin scopes only so that one noisy
// client cannot open the global breaker for everybody.
func (g *Guard) Record(userID, origin string, err error) {
	userKey := ScopeKey(ScopeUser, userID)
	originKey := ScopeKey(ScopeOrigin, origin)
	if err != nil {
		g.breakers.RecordFailure(userKey)
		g.breakers.RecordFailure(originKey)
		return
	}
	g.breakers.RecordSuccess(ScopeKey(ScopeGlobal, ""))
	g.breakers.RecordSuccess(userKey)
	g.breakers.RecordSuccess(originKey)
}

// RecordUser is Record for requests checked with AllowUser.
func (g *Guard) RecordUser(userID string, err error) {
	userKey := ScopeKey(ScopeUser, userID)
	if err != nil {
		g.breakers.RecordFailure(userKey)
		return
	}
	g.breakers.RecordSuccess(ScopeKey(ScopeGlobal, ""))
	g.breakers.RecordSuccess(userKey)
}

// RecordFailure counts a failure against a single scope key.
func (g *Guard) RecordFailure(scope string) { g.breakers.RecordFailure(scope) }

// RecordSuccess counts a success against a single scope key.
func (g *Guard) RecordSuccess(scope string) { g.breakers.RecordSuccess(scope) }

// ResetBreaker is the administrative override that closes a scope's breaker.
func (g *Guard) ResetBreaker(scope string) error { return g.breakers.Reset(scope) }
