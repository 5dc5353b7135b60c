// Package utils provides shared low-level helpers used throughout the proxy
// internals: HTTP request helpers for synchronous and streaming upstream
// calls, SSE and line-based stream framing, lenient JSON decoding, and small
// pointer and string utilities.
//
// Key entry points: [DoPostSync] for synchronous JSON round-trips,
// [DoPostStream] together with [SSEScanner] or [LineBuffer] for streaming
// consumption, and [DecodeLenient] for repair-and-retry JSON decoding.
package utils
