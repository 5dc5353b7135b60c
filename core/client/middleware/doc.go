// Package middleware provides ready-made middleware entries for the client
// pipeline: retry with exponential backoff and model fallback, per-request
// timeouts, and structured request/response logging.
package middleware
