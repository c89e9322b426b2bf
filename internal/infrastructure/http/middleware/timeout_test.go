package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		wantBounded bool
	}{
		{name: "positive timeout sets a deadline", timeout: time.Minute, wantBounded: true},
		{name: "zero leaves the context unbounded", timeout: 0, wantBounded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deadline time.Time
			var bounded bool
			handler := RequestTimeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				deadline, bounded = r.Context().Deadline()
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			if bounded != tt.wantBounded {
				t.Fatalf("expected bounded=%v, got %v", tt.wantBounded, bounded)
			}
			if bounded && time.Until(deadline) > tt.timeout {
				t.Errorf("deadline %s exceeds timeout %s", deadline, tt.timeout)
			}
		})
	}
}
