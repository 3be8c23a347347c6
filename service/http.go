package service

import (
	"net"
	"net/http"
	"time"
)

// HTTPConfig configures the timeouts of an http.Client
type HTTPConfig struct {
	// Timeout of the whole request, body included (0: no limit)
	Timeout time.Duration
	// ConnectTimeout bounds the dial and the TLS handshake
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for the response headers (0: no limit)
	ResponseHeaderTimeout time.Duration
	// Transport wraps the default transport (e.g. to throttle requests)
	Transport func(http.RoundTripper) http.RoundTripper
}

// NewHTTPClient creates an http.Client with connection, header and global timeouts
func NewHTTPClient(config HTTPConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if config.Transport != nil {
		transport = config.Transport(transport)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}

// SetAuth sets a basic auth or a bearer token to the request
func SetAuth(req *http.Request, authName, authPswd, authToken string) {
	if authName != "" {
		req.SetBasicAuth(authName, authPswd)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
}
