// Package client is the top-level entry point of the proxy pipeline. A Client
// routes canonical requests to registered providers through a middleware
// chain, consults the optional response cache, and attaches the observer to
// the request context so every layer below emits telemetry.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/providers/ai"
	"github.com/modelrelay/modelrelay/providers/observability"
)

// ErrNoProvider is returned when no registered provider matches the
// requested model.
var ErrNoProvider = errors.New("modelrelay: no provider registered for model")

// TokenSource supplies the upstream credential for a request. Implementations
// may return a static key or refresh an OAuth token on demand.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed credential.
type StaticToken string

func (t StaticToken) AccessToken(_ context.Context) (string, error) {
	return string(t), nil
}

// ResponseCache short-circuits repeated synchronous requests. Streaming calls
// never consult the cache: their value is incremental delivery.
type ResponseCache interface {
	Lookup(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, bool)
	Store(ctx context.Context, request *ai.MessagesRequest, response *ai.MessagesResponse)
}

// Client routes canonical requests to providers.
type Client struct {
	registry    *ai.Registry
	middlewares []MiddlewareConfig
	observer    observability.Provider
	cache       ResponseCache
}

// Option configures a Client.
type Option func(*Client)

// WithRegistry sets the provider registry.
func WithRegistry(registry *ai.Registry) Option {
	return func(c *Client) { c.registry = registry }
}

// WithProvider registers a provider under an id with its model prefixes.
func WithProvider(id string, provider ai.Provider, prefixes ...string) Option {
	return func(c *Client) { c.registry.Register(id, provider, prefixes...) }
}

// WithMiddlewares appends middleware entries. Order matters: the first entry
// is the outermost wrapper.
func WithMiddlewares(middlewares ...MiddlewareConfig) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, middlewares...) }
}

// WithObserver attaches the observability provider used for all calls.
func WithObserver(observer observability.Provider) Option {
	return func(c *Client) { c.observer = observer }
}

// WithResponseCache enables response caching for synchronous calls.
func WithResponseCache(cache ResponseCache) Option {
	return func(c *Client) { c.cache = cache }
}

// New creates a Client. Middleware entries with a nil Send field are invalid.
func New(opts ...Option) (*Client, error) {
	c := &Client{registry: ai.NewRegistry()}
	for _, opt := range opts {
		opt(c)
	}

	for i, middleware := range c.middlewares {
		if middleware.Send == nil {
			return nil, fmt.Errorf("modelrelay: middleware %d has a nil Send", i)
		}
	}

	return c, nil
}

// Send routes a synchronous request to the provider matching the model and
// runs it through the middleware chain. A cache hit returns immediately
// without touching the upstream.
func (c *Client) Send(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
	ctx, span := c.startSpan(ctx, observability.SpanClientSend, request)
	if span != nil {
		defer span.End()
	}

	provider, ok := c.registry.Resolve(request.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, request.Model)
	}

	if c.cache != nil {
		if cached, hit := c.cache.Lookup(ctx, request); hit {
			if span != nil {
				span.AddEvent(observability.EventCacheHit,
					observability.String(observability.AttrUpstreamModel, request.Model))
			}
			return cached, nil
		}
	}

	response, err := buildSendChain(provider, c.middlewares)(ctx, request)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(observability.StatusError, err.Error())
		}
		return nil, err
	}

	if span != nil {
		span.SetAttributes(
			observability.String(observability.AttrUpstreamResponseID, response.ID),
			observability.String(observability.AttrUpstreamStopReason, string(response.StopReason)),
			observability.Int(observability.AttrTokensInput, response.Usage.InputTokens),
			observability.Int(observability.AttrTokensOutput, response.Usage.OutputTokens),
		)
		span.SetStatus(observability.StatusOK, "")
	}

	if c.cache != nil {
		c.cache.Store(ctx, request, response)
	}

	return response, nil
}

// Stream routes a streaming request to the provider matching the model. The
// returned stream must be consumed by the caller; the span ends when the
// stream's iterator finishes.
func (c *Client) Stream(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
	ctx, span := c.startSpan(ctx, observability.SpanClientStream, request)

	provider, ok := c.registry.Resolve(request.Model)
	if !ok {
		if span != nil {
			span.End()
		}
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, request.Model)
	}

	stream, err := buildStreamChain(provider, c.middlewares)(ctx, request)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(observability.StatusError, err.Error())
			span.End()
		}
		return nil, err
	}

	if span == nil {
		return stream, nil
	}
	return wrapStreamWithSpan(stream, span), nil
}

// startSpan opens the client span when an observer is configured and attaches
// both to the context for the layers below.
func (c *Client) startSpan(ctx context.Context, name string, request *ai.MessagesRequest) (context.Context, observability.Span) {
	if c.observer == nil {
		return ctx, nil
	}
	ctx = observability.ContextWithObserver(ctx, c.observer)
	return c.observer.StartSpan(ctx, name,
		observability.String(observability.AttrUpstreamModel, request.Model),
		observability.Int("request.messages_count", len(request.Messages)),
		observability.Int("request.tools_count", len(request.Tools)),
	)
}

// wrapStreamWithSpan ends the span once the stream finishes, recording the
// event count and any terminating error.
func wrapStreamWithSpan(stream *ai.MessageStream, span observability.Span) *ai.MessageStream {
	return ai.NewMessageStream(func(yield func(ai.StreamEvent, error) bool) {
		defer span.End()

		eventCount := 0
		for event, err := range stream.Iter() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(observability.StatusError, err.Error())
				yield(event, err)
				return
			}
			eventCount++
			if !yield(event, nil) {
				span.SetAttributes(observability.Int(observability.AttrStreamEventCount, eventCount))
				return
			}
		}

		span.SetAttributes(observability.Int(observability.AttrStreamEventCount, eventCount))
		span.SetStatus(observability.StatusOK, "")
	})
}
