package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_PeakNeverExceedsTierMax(t *testing.T) {
	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, tier := range []Tier{Tier1, Tier2, Tier3, Tier4} {
		tier := tier
		t.Run(tier.String(), func(t *testing.T) {
			var inFlight, peak int64
			var wg sync.WaitGroup

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := l.Do(context.Background(), tier, func(context.Context) error {
						n := atomic.AddInt64(&inFlight, 1)
						for {
							p := atomic.LoadInt64(&peak)
							if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
								break
							}
						}
						time.Sleep(time.Millisecond)
						atomic.AddInt64(&inFlight, -1)
						return nil
					})
					if err != nil {
						t.Errorf("Do: %v", err)
					}
				}()
			}
			wg.Wait()

			if max := int64(l.Max(tier)); peak > max {
				t.Fatalf("peak %d exceeded max %d", peak, max)
			}
			if peak == 0 {
				t.Fatalf("expected calls to run")
			}
		})
	}
}

func TestLimiter_ReleasesSlotOnError(t *testing.T) {
	l, err := New(map[Tier]TierConfig{Tier1: {MaxConcurrent: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("boom")
	if err := l.Do(context.Background(), Tier1, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Do(ctx, Tier1, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("slot was not released after failure: %v", err)
	}
}

func TestLimiter_ReleasesSlotOnPanic(t *testing.T) {
	l, err := New(map[Tier]TierConfig{Tier1: {MaxConcurrent: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = l.Do(context.Background(), Tier1, func(context.Context) error { panic("kaboom") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Do(ctx, Tier1, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("slot was not released after panic: %v", err)
	}
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l, err := New(map[Tier]TierConfig{Tier2: {MaxConcurrent: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	release, err := l.Acquire(context.Background(), Tier2)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, Tier2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLimiter_ReleaseIsIdempotent(t *testing.T) {
	l, err := New(map[Tier]TierConfig{Tier3: {MaxConcurrent: 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	release, err := l.Acquire(context.Background(), Tier3)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()

	if got := l.Max(Tier3); got != 1 {
		t.Fatalf("expected max 1, got %d", got)
	}
}

func TestNew_RejectsNonPositiveMax(t *testing.T) {
	if _, err := New(map[Tier]TierConfig{Tier4: {MaxConcurrent: 0}}); err == nil {
		t.Fatal("expected error for zero max")
	}
}

func TestLimiter_UnknownTier(t *testing.T) {
	l, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := l.Acquire(context.Background(), Tier(9)); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
