package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
)

const (
	DefaultRetryAfter = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultMaxWait    = 5 * time.Minute
)

// Executor runs single Slack calls under a tier gate and waits out rate
// limiting. The tier slot is never held while sleeping.
type Executor struct {
	limiter    *ratelimit.Limiter
	retryAfter time.Duration
	maxRetries int
	maxWait    time.Duration
	sleep      func(context.Context, time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultRetryAfter sets the wait used when Slack sends no usable
// Retry-After value.
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(e *Executor) { e.retryAfter = d }
}

// WithMaxRetries caps the number of rate-limit retries per call. Zero
// disables the cap.
func WithMaxRetries(n int) Option {
	return func(e *Executor) { e.maxRetries = n }
}

// WithMaxWait caps the cumulative rate-limit wait per call. Zero disables
// the cap.
func WithMaxWait(d time.Duration) Option {
	return func(e *Executor) { e.maxWait = d }
}

// WithSleeper replaces the backoff sleep, mostly for tests.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor returns an executor that gates calls through limiter and uses
// the package defaults unless opts override them.
func NewExecutor(limiter *ratelimit.Limiter, opts ...Option) *Executor {
	e := &Executor{
		limiter:    limiter,
		retryAfter: DefaultRetryAfter,
		maxRetries: DefaultMaxRetries,
		maxWait:    DefaultMaxWait,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limiter exposes the gates the executor acquires.
func (e *Executor) Limiter() *ratelimit.Limiter { return e.limiter }

// Fallback converts a failure into a value returned in place of an error.
type Fallback[T any] func(err error) T

// Do executes call under tier. Rate-limited calls are retried after the
// server-suggested wait within the executor's budget. Any other failure is
// classified as *RemoteCallError or *TransportError; when onError is non-nil
// its result is returned instead of the error. Context cancellation is always
// returned as an error.
func Do[T any](ctx context.Context, e *Executor, tier ratelimit.Tier, method string, call func(context.Context) (T, error), onError Fallback[T]) (T, error) {
	var zero T
	retries := 0
	var waited time.Duration

	for {
		var (
			res     T
			callErr error
		)
		if err := e.limiter.Do(ctx, tier, func(ctx context.Context) error {
			res, callErr = call(ctx)
			return nil
		}); err != nil {
			return zero, fmt.Errorf("%s: %w", method, err)
		}

		if callErr == nil {
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%s: %w", method, ctxErr)
		}

		var rle *slack.RateLimitedError
		if errors.As(callErr, &rle) {
			wait := rle.RetryAfter
			if wait <= 0 {
				wait = e.retryAfter
			}

			retries++
			if (e.maxRetries > 0 && retries > e.maxRetries) || (e.maxWait > 0 && waited+wait > e.maxWait) {
				exhausted := fmt.Errorf("%s: %w after %d retries (%s waited)", method, ErrRateLimitExhausted, retries-1, waited)
				log.Error().
					Str("method", method).
					Str("tier", tier.String()).
					Int("retries", retries-1).
					Dur("waited", waited).
					Msg("Rate limit retry budget exhausted")
				if onError != nil {
					return onError(exhausted), nil
				}
				return zero, exhausted
			}

			log.Warn().
				Str("method", method).
				Str("tier", tier.String()).
				Int("retry", retries).
				Dur("retryAfter", wait).
				Msg("Rate limited, backing off")

			if err := e.sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("%s: %w", method, err)
			}
			waited += wait
			continue
		}

		classified := classify(method, callErr)
		log.Debug().
			Err(classified).
			Str("method", method).
			Str("tier", tier.String()).
			Bool("fallback", onError != nil).
			Msg("Slack call failed")

		if onError != nil {
			return onError(classified), nil
		}
		return zero, classified
	}
}

func classify(method string, err error) error {
	var rce *RemoteCallError
	var te *TransportError
	if errors.As(err, &rce) || errors.As(err, &te) {
		return err
	}

	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		return &RemoteCallError{Method: method, Code: serr.Err, Err: err}
	}

	return &TransportError{Method: method, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
