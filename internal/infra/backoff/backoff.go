// Package backoff retries upstream calls with exponential backoff and jitter.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	expbackoff "github.com/cenkalti/backoff/v5"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/metrics"
)

// Default policy: 1s base delay, 32s cap, 5 attempts.
const (
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 32 * time.Second
	DefaultMaxRetries = 5

	// jitterFactor bounds the jitter added to each delay.
	jitterFactor = 0.25
)

// Config defines the retry budget.
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxRetries is the total number of attempts.
	MaxRetries int
}

// Scheduler runs an operation until it succeeds, fails permanently, or
// exhausts the retry budget. Attempts are strictly sequential.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	random func() float64
	notify func(err error, delay time.Duration)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRandom overrides the jitter source. It must return values in [0,1).
func WithRandom(random func() float64) Option {
	return func(s *Scheduler) {
		s.random = random
	}
}

// WithNotify registers a callback invoked before each wait with the
// failed attempt's error and the delay about to be taken.
func WithNotify(notify func(err error, delay time.Duration)) Option {
	return func(s *Scheduler) {
		s.notify = notify
	}
}

// New creates a Scheduler. Zero config fields take the default policy.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	s := &Scheduler{
		cfg:    cfg,
		logger: logger,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateDelay returns the wait after the given 0-indexed attempt:
// base * 2^attempt plus up to 25% jitter, capped at MaxDelay.
func (s *Scheduler) CalculateDelay(attempt int) (time.Duration, error) {
	if attempt < 0 || attempt >= s.cfg.MaxRetries {
		return 0, fmt.Errorf("%w: attempt %d of %d", domain.ErrRetryBudgetExhausted, attempt, s.cfg.MaxRetries)
	}

	delay := float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	delay += delay * jitterFactor * s.random()

	if delay > float64(s.cfg.MaxDelay) {
		delay = float64(s.cfg.MaxDelay)
	}
	return time.Duration(delay), nil
}

// schedule adapts CalculateDelay to backoff.BackOff. An upstream wait
// hint raises the next delay but never past MaxDelay.
type schedule struct {
	s       *Scheduler
	attempt int
	hint    time.Duration
}

func (b *schedule) Reset() {
	b.attempt = 0
	b.hint = 0
}

func (b *schedule) NextBackOff() time.Duration {
	delay, err := b.s.CalculateDelay(b.attempt)
	b.attempt++
	if err != nil {
		return expbackoff.Stop
	}
	if b.hint > delay {
		delay = min(b.hint, b.s.cfg.MaxDelay)
	}
	b.hint = 0
	return delay
}

// ExecuteWithRetry invokes fn until it succeeds. An error rejected by
// shouldRetry is returned immediately. A nil shouldRetry retries every
// error except context cancellation. When the error carries an upstream
// wait time, the next attempt waits at least that long, up to MaxDelay.
func (s *Scheduler) ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	if shouldRetry == nil {
		shouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}

	start := time.Now()
	sched := &schedule{s: s}
	var (
		attempt   int
		totalWait time.Duration
		fatal     bool
	)

	operation := func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		retryable := shouldRetry(err)
		s.logger.WarnContext(ctx, "operation attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
			slog.Bool("retryable", retryable))

		if !retryable {
			fatal = true
			return struct{}{}, expbackoff.Permanent(err)
		}
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) {
			sched.hint = upstream.WaitTime
		}
		return struct{}{}, err
	}

	notify := func(err error, delay time.Duration) {
		totalWait += delay
		metrics.BackoffAttempts.WithLabelValues("retry").Inc()
		metrics.BackoffWait.Observe(delay.Seconds())
		s.logger.InfoContext(ctx, "retry backoff wait",
			slog.Int("attempt", attempt),
			slog.Int64("retry_delay_ms", delay.Milliseconds()),
			slog.Int64("total_wait_time_ms", totalWait.Milliseconds()))
		if s.notify != nil {
			s.notify(err, delay)
		}
	}

	_, err := expbackoff.Retry(ctx, operation,
		expbackoff.WithBackOff(sched),
		expbackoff.WithMaxTries(uint(s.cfg.MaxRetries)),
		expbackoff.WithMaxElapsedTime(0),
		expbackoff.WithNotify(notify))

	// Retry returns the wrapper as-is when the last allowed try is permanent.
	var permanent *expbackoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	switch {
	case err == nil:
		metrics.BackoffAttempts.WithLabelValues("success").Inc()
		if attempt > 1 {
			s.logger.InfoContext(ctx, "operation succeeded after retry",
				slog.Int("attempt", attempt),
				slog.Int64("total_wait_time_ms", totalWait.Milliseconds()))
		}
		return nil
	case fatal:
		metrics.BackoffAttempts.WithLabelValues("fatal").Inc()
		return err
	case ctx.Err() != nil:
		s.logger.WarnContext(ctx, "retry cancelled by context",
			slog.Int("attempt", attempt),
			slog.String("context_error", ctx.Err().Error()))
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	}

	metrics.BackoffAttempts.WithLabelValues("gave_up").Inc()
	s.logger.ErrorContext(ctx, "operation failed permanently",
		slog.Int("attempts", attempt),
		slog.String("error", err.Error()),
		slog.Int64("total_duration_ms", time.Since(start).Milliseconds()))

	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetryBudgetExhausted, attempt, err)
}
