package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		config   *ClientConfig
		validate func(t *testing.T, client *http.Client)
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
			validate: func(t *testing.T, client *http.Client) {
				if client.Timeout != 30*time.Second {
					t.Errorf("expected default timeout 30s, got %v", client.Timeout)
				}
				transport, ok := client.Transport.(*http.Transport)
				if !ok {
					t.Fatalf("expected pooled *http.Transport, got %T", client.Transport)
				}
				if transport.MaxConnsPerHost != 20 {
					t.Errorf("expected 20 conns per host, got %d", transport.MaxConnsPerHost)
				}
			},
		},
		{
			name:   "connection cap and header timeout follow config",
			config: &ClientConfig{Timeout: 60 * time.Second, MaxConnsPerHost: 8},
			validate: func(t *testing.T, client *http.Client) {
				transport := client.Transport.(*http.Transport)
				if transport.MaxConnsPerHost != 8 || transport.MaxIdleConnsPerHost != 8 {
					t.Errorf("expected 8 conns per host, got %d/%d", transport.MaxConnsPerHost, transport.MaxIdleConnsPerHost)
				}
				if transport.ResponseHeaderTimeout != 60*time.Second {
					t.Errorf("expected header timeout 60s, got %v", transport.ResponseHeaderTimeout)
				}
			},
		},
		{
			name:   "custom transport",
			config: &ClientConfig{Timeout: 5 * time.Second, Transport: http.DefaultTransport},
			validate: func(t *testing.T, client *http.Client) {
				if client.Transport != http.DefaultTransport {
					t.Error("expected custom transport to be set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.config)
			if client == nil {
				t.Fatal("expected client to be created, got nil")
			}
			tt.validate(t, client)
		})
	}
}

func TestNewClient_Redirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()
	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirect.Close()

	tests := []struct {
		name           string
		config         *ClientConfig
		expectedStatus int
	}{
		{
			name:           "redirects are not followed by default",
			config:         &ClientConfig{Timeout: 5 * time.Second},
			expectedStatus: http.StatusFound,
		},
		{
			name: "custom check redirect wins",
			config: &ClientConfig{
				Timeout:       5 * time.Second,
				CheckRedirect: func(*http.Request, []*http.Request) error { return nil },
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewClient(tt.config).Get(redirect.URL)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
		})
	}
}
