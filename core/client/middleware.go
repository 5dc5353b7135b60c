package client

import (
	"context"

	"github.com/modelrelay/modelrelay/providers/ai"
)

// SendFunc sends a canonical request upstream and returns the completed
// response. It is the base unit threaded through the send middleware chain.
type SendFunc func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error)

// StreamFunc sends a canonical request upstream and returns the canonical
// event stream. It is the base unit threaded through the stream middleware
// chain.
type StreamFunc func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error)

// Middleware intercepts and optionally transforms send requests and
// responses. Each Middleware receives the next SendFunc in the chain and
// returns a new SendFunc that wraps it. Middlewares are applied
// outermost-first: the first middleware in the slice is the outermost wrapper.
type Middleware func(next SendFunc) SendFunc

// StreamMiddleware is the streaming counterpart of Middleware. It intercepts
// stream establishment and may wrap the returned MessageStream to observe or
// transform the event sequence.
type StreamMiddleware func(next StreamFunc) StreamFunc

// MiddlewareConfig pairs a send middleware with its optional streaming
// counterpart. Send is required; a nil Stream means streaming calls bypass
// this entry entirely.
type MiddlewareConfig struct {
	Send   Middleware
	Stream StreamMiddleware
}

// buildSendChain constructs the linear send middleware chain. The base
// function calls the provider directly. Middlewares are applied in reverse so
// the first entry in the slice is the first to execute on an incoming request.
func buildSendChain(provider ai.Provider, middlewares []MiddlewareConfig) SendFunc {
	var chain SendFunc = func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
		return provider.SendMessage(ctx, request)
	}

	for i := len(middlewares) - 1; i >= 0; i-- {
		chain = middlewares[i].Send(chain)
	}

	return chain
}

// buildStreamChain constructs the linear stream middleware chain. Entries
// with a nil Stream field are skipped.
func buildStreamChain(provider ai.Provider, middlewares []MiddlewareConfig) StreamFunc {
	var chain StreamFunc = func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
		return provider.StreamMessage(ctx, request)
	}

	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i].Stream != nil {
			chain = middlewares[i].Stream(chain)
		}
	}

	return chain
}
