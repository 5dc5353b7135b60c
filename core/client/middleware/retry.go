package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/core/client"
	"github.com/modelrelay/modelrelay/internal/utils"
	"github.com/modelrelay/modelrelay/providers/ai"
	"github.com/modelrelay/modelrelay/providers/observability"
)

// RetryPolicy controls how failed upstream calls are retried. Zero values are
// replaced with the defaults documented per field when NewRetryMiddleware is
// called.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the first failure.
	// Default: 3.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff. Default: 60s.
	MaxBackoff time.Duration

	// Multiplier is the exponential growth factor
	// (backoff = min(InitialBackoff * Multiplier^attempt, MaxBackoff)).
	// Default: 2.
	Multiplier float64

	// RetryOnRateLimit enables retries on HTTP 429.
	RetryOnRateLimit bool

	// RetryOnTimeout enables retries on HTTP 408 and network timeouts.
	RetryOnTimeout bool

	// RetryOnServerError enables retries on HTTP 5xx.
	RetryOnServerError bool

	// FallbackModels are substituted on successive retries: attempt N uses
	// FallbackModels[N-1] when present, otherwise the original model.
	FallbackModels []string
}

// applyDefaults fills zero-valued tuning fields. The retry-class flags are
// genuine booleans and stay as configured.
func (p *RetryPolicy) applyDefaults() {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 60 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2
	}
}

// CalculateBackoff returns the delay before retry attempt (0-indexed):
// min(InitialBackoff * Multiplier^attempt, MaxBackoff).
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if backoff > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(backoff)
}

// ShouldRetry classifies an upstream error. Status-based classes are gated by
// the policy flags; connection-level failures are always retryable because no
// request reached the upstream.
func (p *RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *utils.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return p.RetryOnRateLimit
		case statusErr.StatusCode == http.StatusRequestTimeout:
			return p.RetryOnTimeout
		case statusErr.StatusCode >= 500:
			return p.RetryOnServerError
		default:
			return false
		}
	}

	// Context cancellation is the caller's decision, never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Connection-level failures never reached the upstream, so retrying is
	// always safe; timeouts stay behind their flag.
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return p.RetryOnTimeout
		}
		return true
	}

	return false
}

// NextFallbackModel returns the model to use for the given retry attempt
// (1-indexed), or empty when the original model should be kept.
func (p *RetryPolicy) NextFallbackModel(attempt int) string {
	index := attempt - 1
	if index < 0 || index >= len(p.FallbackModels) {
		return ""
	}
	return p.FallbackModels[index]
}

// retryDelay picks the wait before an attempt. An upstream Retry-After takes
// precedence over the computed exponential backoff.
func (p *RetryPolicy) retryDelay(attempt int, lastErr error) time.Duration {
	var statusErr *utils.StatusError
	if errors.As(lastErr, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter
	}
	return p.CalculateBackoff(attempt)
}

// NewRetryMiddleware constructs a middleware entry that retries failed calls
// according to the policy, substituting fallback models on successive
// attempts. Both synchronous calls and stream establishment are covered; a
// stream that fails after events have been delivered is not retried, since
// the events cannot be unsent.
//
// On exhaustion the returned error wraps both [ErrRetryExhausted] and the
// last upstream error.
func NewRetryMiddleware(policy RetryPolicy) client.MiddlewareConfig {
	policy.applyDefaults()

	return client.MiddlewareConfig{
		Send: func(next client.SendFunc) client.SendFunc {
			return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
				var response *ai.MessagesResponse
				err := runWithRetry(ctx, &policy, request, func(ctx context.Context, attempt *ai.MessagesRequest) error {
					var callErr error
					response, callErr = next(ctx, attempt)
					return callErr
				})
				if err != nil {
					return nil, err
				}
				return response, nil
			}
		},
		Stream: func(next client.StreamFunc) client.StreamFunc {
			return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
				var stream *ai.MessageStream
				err := runWithRetry(ctx, &policy, request, func(ctx context.Context, attempt *ai.MessagesRequest) error {
					var callErr error
					stream, callErr = next(ctx, attempt)
					return callErr
				})
				if err != nil {
					return nil, err
				}
				return stream, nil
			}
		},
	}
}

// runWithRetry drives the attempt loop shared by both call shapes. The
// request is cloned per attempt so fallback model substitution never mutates
// the caller's request.
func runWithRetry(ctx context.Context, policy *RetryPolicy, request *ai.MessagesRequest, call func(context.Context, *ai.MessagesRequest) error) error {
	span := observability.SpanFromContext(ctx)
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.retryDelay(attempt-1, lastErr)
			if span != nil {
				span.AddEvent(observability.EventRetryScheduled,
					observability.Int(observability.AttrRetryAttempt, attempt),
					observability.Duration(observability.AttrRetryBackoff, delay),
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptRequest := request
		if fallback := policy.NextFallbackModel(attempt); fallback != "" {
			clone := *request
			clone.Model = fallback
			attemptRequest = &clone
			if span != nil {
				span.AddEvent(observability.EventRetryScheduled,
					observability.String(observability.AttrRetryFallbackModel, fallback))
			}
		}

		err := call(ctx, attemptRequest)
		if err == nil {
			return nil
		}
		lastErr = err

		if !policy.ShouldRetry(err) {
			return err
		}
	}

	return fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, policy.MaxRetries, lastErr)
}
