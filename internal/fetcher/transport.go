// Package fetcher turns raw transport responses into tagged fetch outcomes.
// It owns the per-channel rate limit acquisition and the bounded retry loop
// for HTTP 429 responses.
package fetcher

import "context"

// Response is the raw result of a single transport round trip.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Transport performs one GET without interpreting the status code. Errors are
// reserved for network faults and timeouts.
type Transport interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(ctx context.Context, url string) (Response, error)

// Fetch calls f.
func (f TransportFunc) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}
