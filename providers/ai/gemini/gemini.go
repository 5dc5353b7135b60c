// Package gemini adapts the canonical messages model to the Google Gemini
// generateContent API, including SSE streaming and thought-signature
// round-tripping.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/internal/utils"
	"github.com/modelrelay/modelrelay/providers/ai"
	"github.com/modelrelay/modelrelay/providers/observability"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider implements ai.Provider against the Gemini API.
type Provider struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	signatures *sigcache.Cache
}

// New creates a Gemini provider configured from the environment:
// GEMINI_API_KEY and optionally GEMINI_API_BASE_URL.
func New() *Provider {
	baseURL := os.Getenv("GEMINI_API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		apiKey:     os.Getenv("GEMINI_API_KEY"),
		baseURL:    baseURL,
		client:     http.DefaultClient,
		signatures: sigcache.Default(),
	}
}

// WithAPIKey sets the API key explicitly, overriding the environment.
func (p *Provider) WithAPIKey(apiKey string) *Provider {
	p.apiKey = apiKey
	return p
}

// WithBaseURL overrides the API base URL, e.g. for a regional endpoint or a
// test server.
func (p *Provider) WithBaseURL(baseURL string) *Provider {
	p.baseURL = baseURL
	return p
}

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, test doubles).
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

func (p *Provider) validate() error {
	if p.apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return nil
}

// SendMessage performs a synchronous generateContent call and assembles the
// canonical response through the same accumulator the streaming path uses.
func (p *Provider) SendMessage(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.annotateSpan(ctx, request, false)

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, request.Model)
	geminiRequest := requestToGemini(request, p.signatures)

	_, geminiResponse, err := utils.DoPostSync[generateContentResponse](
		ctx,
		p.client,
		url,
		geminiRequest,
		utils.HeaderOption{Key: "x-goog-api-key", Value: p.apiKey},
	)
	if err != nil {
		return nil, err
	}

	accumulator := ai.NewAccumulator(request.Model,
		ai.WithSignatureCache(p.signatures, sigcache.FamilyGemini))
	accumulator.SetResponseID(geminiResponse.ResponseID)

	for _, event := range chunkToEvents(geminiResponse) {
		if event.Kind == ai.EventError {
			return nil, fmt.Errorf("gemini: %s", event.Err.Message)
		}
		accumulator.Push(event)
	}

	response := accumulator.Response()

	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent(observability.EventUpstreamRequestEnd,
			observability.String(observability.AttrUpstreamResponseID, response.ID),
			observability.String(observability.AttrUpstreamStopReason, string(response.StopReason)),
			observability.Int(observability.AttrTokensInput, response.Usage.InputTokens),
			observability.Int(observability.AttrTokensOutput, response.Usage.OutputTokens),
		)
	}

	return response, nil
}

func (p *Provider) annotateSpan(ctx context.Context, request *ai.MessagesRequest, streaming bool) {
	span := observability.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.AddEvent(observability.EventUpstreamRequestStart)
	span.SetAttributes(
		observability.String(observability.AttrUpstreamProvider, "gemini"),
		observability.String(observability.AttrUpstreamEndpoint, p.baseURL),
		observability.String(observability.AttrUpstreamModel, request.Model),
		observability.Bool("upstream.streaming", streaming),
	)
}
