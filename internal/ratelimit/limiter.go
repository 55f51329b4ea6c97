package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Tier identifies a class of Slack Web API methods sharing one quota.
// See https://api.slack.com/apis/rate-limits
type Tier int

const (
	Tier1 Tier = iota + 1 // strictest quota, access infrequently
	Tier2                 // conversations.list, search.messages
	Tier3                 // conversations.history/replies, users.lookupByEmail, reactions
	Tier4                 // users.info, users.list, conversations.members
)

func (t Tier) String() string {
	switch t {
	case Tier1, Tier2, Tier3, Tier4:
		return fmt.Sprintf("tier%d", int(t))
	default:
		return "unknown"
	}
}

// TierConfig describes one gate.
type TierConfig struct {
	MaxConcurrent int
	// PerMinute paces request starts when > 0. Zero disables pacing.
	PerMinute int
}

// DefaultTiers returns the concurrency maxima used against Slack.
func DefaultTiers() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		Tier1: {MaxConcurrent: 1},
		Tier2: {MaxConcurrent: 4},
		Tier3: {MaxConcurrent: 8},
		Tier4: {MaxConcurrent: 20},
	}
}

// PublishedPerMinute holds Slack's documented per-minute quotas, used when
// pacing is switched on.
var PublishedPerMinute = map[Tier]int{
	Tier1: 1,
	Tier2: 20,
	Tier3: 50,
	Tier4: 100,
}

type gate struct {
	sem   *semaphore.Weighted
	pacer *rate.Limiter
	max   int64
}

// Limiter holds one independent counting gate per tier. It is safe for
// concurrent use and is never reconfigured after construction.
type Limiter struct {
	gates map[Tier]*gate
}

// New builds a Limiter. Tiers missing from cfg fall back to DefaultTiers.
func New(cfg map[Tier]TierConfig) (*Limiter, error) {
	l := &Limiter{gates: make(map[Tier]*gate, 4)}
	defaults := DefaultTiers()

	for _, t := range []Tier{Tier1, Tier2, Tier3, Tier4} {
		tc, ok := cfg[t]
		if !ok {
			tc = defaults[t]
		}
		if tc.MaxConcurrent <= 0 {
			return nil, fmt.Errorf("%s: max concurrent must be positive, got %d", t, tc.MaxConcurrent)
		}

		pacer := rate.NewLimiter(rate.Inf, 0)
		if tc.PerMinute > 0 {
			pacer = rate.NewLimiter(rate.Every(time.Minute/time.Duration(tc.PerMinute)), 1)
		}

		l.gates[t] = &gate{
			sem:   semaphore.NewWeighted(int64(tc.MaxConcurrent)),
			pacer: pacer,
			max:   int64(tc.MaxConcurrent),
		}

		log.Debug().
			Str("tier", t.String()).
			Int("maxConcurrent", tc.MaxConcurrent).
			Int("perMinute", tc.PerMinute).
			Msg("Configured rate limit tier")
	}

	return l, nil
}

// Acquire blocks until a slot in tier is free or ctx is done. The returned
// release func must be called exactly once; calling it more than once is a
// no-op.
func (l *Limiter) Acquire(ctx context.Context, tier Tier) (release func(), err error) {
	g, ok := l.gates[tier]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit tier %d", int(tier))
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", tier, err)
	}

	if err := g.pacer.Wait(ctx); err != nil {
		g.sem.Release(1)
		return nil, fmt.Errorf("pace %s: %w", tier, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		g.sem.Release(1)
	}, nil
}

// Do runs fn while holding a slot in tier. The slot is released on every
// exit path, including a panic in fn.
func (l *Limiter) Do(ctx context.Context, tier Tier, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx, tier)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Max reports the configured maximum for tier, or 0 if unknown.
func (l *Limiter) Max(tier Tier) int {
	if g, ok := l.gates[tier]; ok {
		return int(g.max)
	}
	return 0
}
