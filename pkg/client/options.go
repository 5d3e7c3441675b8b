package client

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(map[string]string),
	}
}

// WithHTTPClient supplies a custom *http.Client, e.g. for custom transport
// or TLS configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithTimeout sets the HTTP client's request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.httpClient.Timeout = d
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}
