package http

import (
	"net/http"
	"time"
)

// ClientConfig holds configuration for outbound HTTP clients.
type ClientConfig struct {
	Timeout time.Duration
	// MaxConnsPerHost caps connections to one AFIP host; 0 means 20.
	MaxConnsPerHost int
	// Transport replaces the pooled transport, mainly in tests.
	Transport     http.RoundTripper
	CheckRedirect func(req *http.Request, via []*http.Request) error
}

// NewClient creates an HTTP client with a pooled transport. A nil config means a
// 30s timeout. SOAP endpoints never redirect, so redirects are returned as is
// unless CheckRedirect says otherwise.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = &ClientConfig{
			Timeout: 30 * time.Second,
		}
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: config.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if client.Transport == nil {
		client.Transport = pooledTransport(config.Timeout, config.MaxConnsPerHost)
	}
	if config.CheckRedirect != nil {
		client.CheckRedirect = config.CheckRedirect
	}

	return client
}

func pooledTransport(timeout time.Duration, maxConnsPerHost int) *http.Transport {
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = 20
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
