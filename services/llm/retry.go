package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds how often a backend call is attempted.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first. Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// RequestsPerSecond limits calls across every wrapper sharing the policy's
	// limiter. Zero disables limiting.
	RequestsPerSecond float64
}

// DefaultRetryPolicy allows three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// retrier runs a call with bounded attempts, backoff and rate limiting.
type retrier struct {
	policy   RetryPolicy
	limiter  *rate.Limiter
	logger   *slog.Logger
	duration metric.Float64Histogram
}

func newRetrier(policy RetryPolicy, limiter *rate.Limiter, logger *slog.Logger) *retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	hist, err := otel.Meter("solgraph.llm").Float64Histogram(
		"llm.call.duration",
		metric.WithDescription("Duration of a single backend attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("llm duration histogram unavailable", "error", err)
	}
	return &retrier{policy: policy, limiter: limiter, logger: logger, duration: hist}
}

// NewLimiter builds the shared limiter for a policy, or nil when unlimited.
func NewLimiter(policy RetryPolicy) *rate.Limiter {
	if policy.RequestsPerSecond <= 0 {
		return nil
	}
	burst := int(policy.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), burst)
}

func (r *retrier) do(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", op, err)
			}
		}

		start := time.Now()
		lastErr = call(ctx)
		r.record(ctx, op, start, lastErr)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		r.logger.Warn("llm call failed",
			"op", op,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"error", lastErr.Error())

		if attempt < r.policy.MaxAttempts {
			if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", op, r.policy.MaxAttempts, ErrRetriesExhausted, lastErr)
}

func (r *retrier) backoff(attempt int) time.Duration {
	d := r.policy.BaseDelay << (attempt - 1)
	if r.policy.MaxDelay > 0 && (d > r.policy.MaxDelay || d < 0) {
		d = r.policy.MaxDelay
	}
	return d
}

func (r *retrier) record(ctx context.Context, op string, start time.Time, err error) {
	if r.duration == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op), attribute.String("status", status)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// Wrappers
// =============================================================================

// RetryingClient adds bounded retries to an LLMClient.
type RetryingClient struct {
	next LLMClient
	r    *retrier
}

// NewRetryingClient wraps next. limiter may be nil and may be shared with a
// RetryingEmbedder so both count against one budget.
func NewRetryingClient(next LLMClient, policy RetryPolicy, limiter *rate.Limiter, logger *slog.Logger) *RetryingClient {
	return &RetryingClient{next: next, r: newRetrier(policy, limiter, logger)}
}

// Generate implements LLMClient.
func (c *RetryingClient) Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	var out string
	err := c.r.do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = c.next.Generate(ctx, messages, params)
		return err
	})
	return out, err
}

// RetryingEmbedder adds bounded retries to an Embedder.
type RetryingEmbedder struct {
	next Embedder
	r    *retrier
}

// NewRetryingEmbedder wraps next.
func NewRetryingEmbedder(next Embedder, policy RetryPolicy, limiter *rate.Limiter, logger *slog.Logger) *RetryingEmbedder {
	return &RetryingEmbedder{next: next, r: newRetrier(policy, limiter, logger)}
}

// Embed implements Embedder.
func (e *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.r.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text)
		return err
	})
	return out, err
}
