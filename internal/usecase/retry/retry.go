// Package retry reissues rate-limited provider calls with vendor-suggested
// or exponential delays, honoring cancellation at every wait.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"time"

	"easel-ai/internal/domain"
)

// Default retry parameters.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 60 * time.Second
)

// Options configures one retried operation.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	return o
}

// Rate-limit signatures, matched against the raw (pre-normalization) error.
var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`429`),
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)too.?many.?requests`),
	regexp.MustCompile(`(?i)quota.?exceeded`),
	regexp.MustCompile(`(?i)exceeded.*quota`),
}

// Suggested-delay extraction patterns, in priority order.
var (
	retryInPattern    = regexp.MustCompile(`(?i)retry in ([0-9]+(?:\.[0-9]+)?)s`)
	retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9]+(?:\.[0-9]+)?)s"`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry-after:?\s*([0-9]+(?:\.[0-9]+)?)`)
)

// IsRateLimited reports whether err looks like a vendor rate limit: a
// wrapped 429 sentinel, or a matching message pattern.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsCancellation(err) {
		return false
	}
	msg := err.Error()
	for _, p := range rateLimitPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// retryable reports whether err is worth reissuing at all.
func retryable(err error) bool {
	if domain.IsCancellation(err) {
		return false
	}
	return IsRateLimited(err) || domain.IsRetryableError(err)
}

// SuggestedDelay extracts the vendor-suggested wait from an error message,
// rounded up to the millisecond. Returns 0, false when no pattern matches.
func SuggestedDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	for _, p := range []*regexp.Regexp{retryInPattern, retryDelayPattern, retryAfterPattern} {
		m := p.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		secs, parseErr := strconv.ParseFloat(m[1], 64)
		if parseErr != nil {
			continue
		}
		ms := math.Ceil(secs * 1000)
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

// Delay returns the wait before the given attempt: the vendor-suggested
// delay when present, else baseDelay * 2^attempt, both clamped to MaxDelay.
func (o Options) Delay(err error, attempt int) time.Duration {
	d, ok := SuggestedDelay(err)
	if !ok {
		d = o.BaseDelay << uint(attempt)
	}
	if d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

// Do invokes fn, retrying retryable failures up to MaxRetries times
// (MaxRetries+1 invocations total). The final failure is returned unchanged.
// A cancellation during a wait rejects immediately with ctx.Err().
func Do[T any](ctx context.Context, opts Options, fn func() (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == opts.MaxRetries {
			break
		}

		delay := opts.Delay(err, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		if opts.Logger != nil {
			opts.Logger.Info("retrying after error",
				"attempt", attempt+1, "delay", delay, "error", err)
		}
		if waitErr := wait(ctx, delay); waitErr != nil {
			return zero, waitErr
		}
	}
	return zero, lastErr
}

// Stream retries only the creation of a stream. Failures after the channel
// is handed back are the caller's to surface; AppendDelayHint decorates them.
func Stream[T any](ctx context.Context, opts Options, open func() (<-chan T, error)) (<-chan T, error) {
	return Do(ctx, opts, open)
}

// AppendDelayHint appends any recoverable-delay suggestion found in err to
// its message, for terminal mid-stream errors that are not retried.
func AppendDelayHint(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := SuggestedDelay(err); ok {
		return fmt.Errorf("%w (retry suggested in %s)", err, d)
	}
	return err
}

// wait sleeps for d or until ctx is cancelled, whichever comes first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
