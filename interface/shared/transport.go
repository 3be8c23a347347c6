package shared

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

type transportRateLimited struct {
	originalTransport http.RoundTripper
	limiter           *rate.Limiter
}

// NewRateLimitedTransport wraps the transport to send at most requestsPerSecond requests per second.
// If requestsPerSecond <= 0, the original transport is returned.
func NewRateLimitedTransport(transport http.RoundTripper, requestsPerSecond float64) http.RoundTripper {
	if requestsPerSecond <= 0 {
		return transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &transportRateLimited{
		originalTransport: transport,
		limiter:           rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (t *transportRateLimited) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("RoundTrip.Wait: %w", err)
	}
	return t.originalTransport.RoundTrip(req)
}
