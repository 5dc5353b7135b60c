// Package ai defines the canonical chat model shared by every provider
// adapter: the vendor-neutral request and response structures, the canonical
// stream event vocabulary, and the stream accumulator that reduces
// provider-specific events into canonical streams and complete responses.
package ai
