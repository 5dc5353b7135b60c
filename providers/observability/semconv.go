package observability

// Semantic conventions for attribute, span, event, and metric names.
// Shared constants keep the telemetry emitted by different components
// joinable in one backend.

/*
	##### UPSTREAM ATTRIBUTES #####
*/

const (
	// AttrUpstreamProvider is the upstream dialect (e.g. "gemini", "antigravity").
	AttrUpstreamProvider = "upstream.provider"

	// AttrUpstreamModel is the requested model identifier.
	AttrUpstreamModel = "upstream.model"

	// AttrUpstreamEndpoint is the upstream API endpoint URL.
	AttrUpstreamEndpoint = "upstream.endpoint"

	// AttrUpstreamResponseID is the response identifier assigned by the upstream.
	AttrUpstreamResponseID = "upstream.response.id"

	// AttrUpstreamStopReason is the canonical stop reason of the response.
	AttrUpstreamStopReason = "upstream.stop_reason"
)

/*
	##### TOKEN USAGE ATTRIBUTES #####
*/

const (
	// AttrTokensInput is the number of input tokens reported by the upstream.
	AttrTokensInput = "tokens.input" // #nosec G101 -- LLM tokens, not a credential

	// AttrTokensOutput is the number of output tokens reported by the upstream.
	AttrTokensOutput = "tokens.output" // #nosec G101 -- LLM tokens, not a credential

	// AttrContextUsagePct is the upstream's context-window fill percentage.
	AttrContextUsagePct = "tokens.context_usage_pct" // #nosec G101 -- LLM tokens, not a credential
)

/*
	##### STREAM AND RETRY ATTRIBUTES #####
*/

const (
	// AttrStreamEventCount is the number of canonical events emitted.
	AttrStreamEventCount = "stream.event_count"

	// AttrRetryAttempt is the zero-based retry attempt number.
	AttrRetryAttempt = "retry.attempt"

	// AttrRetryBackoff is the backoff delay before the attempt.
	AttrRetryBackoff = "retry.backoff"

	// AttrRetryFallbackModel is the fallback model substituted for the attempt.
	AttrRetryFallbackModel = "retry.fallback_model"
)

/*
	##### HTTP ATTRIBUTES #####
*/

const (
	AttrHTTPMethod           = "http.method"
	AttrHTTPStatusCode       = "http.status_code"
	AttrHTTPURL              = "http.url"
	AttrHTTPRequestBodySize  = "http.request.body.size"
	AttrHTTPResponseBodySize = "http.response.body.size"
)

/*
	##### GENERAL ATTRIBUTES #####
*/

const (
	AttrError             = "error"
	AttrErrorType         = "error.type"
	AttrDuration          = "duration"
	AttrStatus            = "status"
	AttrStatusDescription = "status_description"
)

/*
	##### SPAN NAMES #####
*/

const (
	// SpanClientSend is the span for a synchronous client call.
	SpanClientSend = "client.send"

	// SpanClientStream is the span for a streaming client call.
	SpanClientStream = "client.stream"

	// SpanUpstreamRequest is the span for one upstream API request.
	SpanUpstreamRequest = "upstream.request"
)

/*
	##### EVENT NAMES #####
*/

const (
	EventUpstreamRequestStart = "upstream.request.start"
	EventUpstreamRequestEnd   = "upstream.request.end"
	EventStreamStart          = "stream.start"
	EventStreamEnd            = "stream.end"
	EventRetryScheduled       = "retry.scheduled"
	EventCacheHit             = "cache.hit"
)

/*
	##### METRIC NAMES #####
*/

const (
	MetricRequestCount    = "modelrelay.request.count"
	MetricRequestDuration = "modelrelay.request.duration"
	MetricTokensInput     = "modelrelay.tokens.input"  // #nosec G101 -- LLM tokens, not a credential
	MetricTokensOutput    = "modelrelay.tokens.output" // #nosec G101 -- LLM tokens, not a credential
	MetricRetryCount      = "modelrelay.retry.count"
)
