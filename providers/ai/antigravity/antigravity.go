// Package antigravity adapts the canonical messages model to the Antigravity
// chat API: flat history requests, an NDJSON response stream dispatched by key
// presence, and reasoning embedded in free text between inline thinking tags.
package antigravity

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/providers/ai"
	"github.com/modelrelay/modelrelay/providers/observability"
)

const defaultBaseURL = "https://api.antigravity.dev"

// TokenSource supplies a bearer token per request. Token refresh happens
// behind this interface; the provider never sees credentials at rest.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Provider implements ai.Provider against the Antigravity API.
type Provider struct {
	apiKey      string
	tokenSource TokenSource
	baseURL     string
	client      *http.Client
	signatures  *sigcache.Cache
}

// New creates an Antigravity provider configured from the environment:
// ANTIGRAVITY_API_KEY and optionally ANTIGRAVITY_BASE_URL.
func New() *Provider {
	baseURL := os.Getenv("ANTIGRAVITY_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		apiKey:     os.Getenv("ANTIGRAVITY_API_KEY"),
		baseURL:    baseURL,
		client:     http.DefaultClient,
		signatures: sigcache.Default(),
	}
}

// WithAPIKey sets a static API key, overriding the environment.
func (p *Provider) WithAPIKey(apiKey string) *Provider {
	p.apiKey = apiKey
	return p
}

// WithTokenSource sets a dynamic token source. When set it takes precedence
// over the static API key.
func (p *Provider) WithTokenSource(source TokenSource) *Provider {
	p.tokenSource = source
	return p
}

// WithBaseURL overrides the API base URL.
func (p *Provider) WithBaseURL(baseURL string) *Provider {
	p.baseURL = baseURL
	return p
}

// WithHTTPClient sets a custom HTTP client.
func (p *Provider) WithHTTPClient(client *http.Client) *Provider {
	p.client = client
	return p
}

// WithSignatureCache substitutes the signature cache, typically to share one
// instance across providers or to isolate tests.
func (p *Provider) WithSignatureCache(cache *sigcache.Cache) *Provider {
	p.signatures = cache
	return p
}

// accessToken resolves the bearer token for one request.
func (p *Provider) accessToken(ctx context.Context) (string, error) {
	if p.tokenSource != nil {
		return p.tokenSource.AccessToken(ctx)
	}
	if p.apiKey == "" {
		return "", fmt.Errorf("ANTIGRAVITY_API_KEY is not set")
	}
	return p.apiKey, nil
}

// SendMessage performs a non-streaming call by driving the streaming endpoint
// to completion and assembling the result; the API has no separate
// synchronous endpoint.
func (p *Provider) SendMessage(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
	stream, err := p.StreamMessage(ctx, request)
	if err != nil {
		return nil, err
	}
	return stream.Collect()
}

func (p *Provider) annotateSpan(ctx context.Context, request *ai.MessagesRequest) {
	span := observability.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.AddEvent(observability.EventUpstreamRequestStart)
	span.SetAttributes(
		observability.String(observability.AttrUpstreamProvider, "antigravity"),
		observability.String(observability.AttrUpstreamEndpoint, p.baseURL),
		observability.String(observability.AttrUpstreamModel, request.Model),
	)
}
