package middleware

import (
	"context"
	"time"

	"github.com/modelrelay/modelrelay/core/client"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// NewTimeoutMiddleware creates a middleware entry that enforces a per-request
// deadline on both synchronous and streaming calls.
//
// For send requests the context is wrapped with context.WithTimeout and cancel
// is deferred. For streaming requests the cancel function is instead called
// when the stream finishes, errors, or is abandoned, so the timeout governs
// the complete lifetime of the stream rather than just establishment.
//
// A caller-supplied context with a shorter deadline wins, per normal context
// semantics.
func NewTimeoutMiddleware(timeout time.Duration) client.MiddlewareConfig {
	return client.MiddlewareConfig{
		Send:   buildSendTimeout(timeout),
		Stream: buildStreamTimeout(timeout),
	}
}

func buildSendTimeout(timeout time.Duration) client.Middleware {
	return func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return next(ctx, request)
		}
	}
}

func buildStreamTimeout(timeout time.Duration) client.StreamMiddleware {
	return func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			stream, err := next(ctx, request)
			if err != nil {
				cancel()
				return nil, err
			}

			return wrapStreamWithCancel(stream, cancel), nil
		}
	}
}

// wrapStreamWithCancel calls cancel once the stream finishes, errors, or the
// caller breaks out of the loop.
func wrapStreamWithCancel(stream *ai.MessageStream, cancel context.CancelFunc) *ai.MessageStream {
	return ai.NewMessageStream(func(yield func(ai.StreamEvent, error) bool) {
		defer cancel()

		for event, err := range stream.Iter() {
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}
	})
}
