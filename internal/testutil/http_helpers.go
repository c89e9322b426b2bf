package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
)

// ReadJSONResponse requires a 200 and decodes the body into v.
func ReadJSONResponse(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	ReadJSONStatus(t, w, http.StatusOK, v)
}

// ReadJSONStatus requires the given status and decodes the body into v.
func ReadJSONStatus(t testing.TB, w *httptest.ResponseRecorder, status int, v any) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}

// ReadBody decodes any JSON object body, whatever the status.
func ReadBody(t testing.TB, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

// ReadErrorResponse decodes an error body. Fields follow the API's ErrorResponse.
func ReadErrorResponse(t testing.TB, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if w.Code < http.StatusBadRequest {
		t.Fatalf("expected an error status, got %d", w.Code)
	}
	return ReadBody(t, w)
}

// CreateRequest creates an HTTP request with optional JSON body and headers.
func CreateRequest(method, path string, body any, headers map[string]string) *http.Request {
	var bodyReader *bytes.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(jsonData)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// WithTenant attaches the tenant the auth middleware would have resolved.
func WithTenant(req *http.Request, tenantID string) *http.Request {
	return req.WithContext(ctxutil.WithTenantID(req.Context(), tenantID))
}
