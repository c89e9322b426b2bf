package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/audit"
	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/security"
)

// TracedClient wraps an HTTP client to trace SOAP exchanges with the fiscal authority.
// It logs every request and response, redacts ticket and signature material, and
// persists an audit trail tagged with the correlation and tenant ids of the caller.
type TracedClient struct {
	client       *http.Client
	log          *slog.Logger
	auditRepo    audit.Repository
	provider     string
	auditEnabled bool
	logReqBody   bool
	logRespBody  bool
	maxBodySize  int
	pending      sync.WaitGroup
}

// TracedClientConfig holds configuration for the traced HTTP client.
type TracedClientConfig struct {
	Timeout         time.Duration
	AuditEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	MaxConnsPerHost int // 0 = 20
}

// NewTracedClient creates a new traced HTTP client with connection pooling.
func NewTracedClient(cfg *TracedClientConfig, log *slog.Logger, auditRepo audit.Repository, provider string) *TracedClient {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 102400
	}
	return &TracedClient{
		client:       NewClient(&ClientConfig{Timeout: cfg.Timeout, MaxConnsPerHost: cfg.MaxConnsPerHost}),
		log:          log,
		auditRepo:    auditRepo,
		provider:     provider,
		auditEnabled: cfg.AuditEnabled,
		logReqBody:   cfg.LogRequestBody,
		logRespBody:  cfg.LogResponseBody,
		maxBodySize:  cfg.MaxBodySize,
	}
}

// Do executes an HTTP request with tracing and audit.
func (c *TracedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := ctxutil.GetCorrelationID(ctx)
	tenantID := ctxutil.GetTenantID(ctx)
	operation := c.extractOperation(req)
	start := time.Now()

	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	var requestBody []byte
	if req.Body != nil {
		var err error
		requestBody, err = io.ReadAll(req.Body)
		if err != nil {
			c.log.Error("Failed to read request body for tracing",
				"error", err,
				"correlation_id", correlationID,
			)
		}
		req.Body = io.NopCloser(bytes.NewReader(requestBody))
	}

	c.logRequest(correlationID, tenantID, operation, req, requestBody)

	resp, err := c.client.Do(req)
	duration := time.Since(start)

	var responseBody []byte
	exchangeErr := err
	if resp != nil && resp.Body != nil {
		var readErr error
		responseBody, readErr = io.ReadAll(resp.Body)
		resp.Body.Close()
		// A body cut short must keep failing for the caller, not look like a complete envelope.
		var body io.Reader = bytes.NewReader(responseBody)
		if readErr != nil {
			body = io.MultiReader(body, failingReader{err: readErr})
			exchangeErr = fmt.Errorf("read response body: %w", readErr)
		}
		resp.Body = io.NopCloser(body)
	}

	c.logResponse(correlationID, tenantID, operation, req, resp, exchangeErr, duration, responseBody)

	if !c.auditEnabled || c.auditRepo == nil {
		return resp, err
	}
	if correlationID == "" {
		correlationID = fmt.Sprintf("audit-%d", time.Now().UnixNano())
	}

	entry := c.buildAuditLog(correlationID, tenantID, operation, req, resp, exchangeErr, duration, requestBody, responseBody)

	// The request context may be canceled as soon as the caller returns, so the
	// audit write runs on its own bounded context.
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Panic in audit log persistence",
					"panic", r,
					"correlation_id", correlationID,
					"operation", operation,
				)
			}
		}()

		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.auditRepo.Save(saveCtx, entry); err != nil {
			c.log.Error("Failed to persist audit log",
				"error", err,
				"correlation_id", correlationID,
				"tenant_id", tenantID,
				"operation", operation,
			)
		}
	}()

	return resp, err
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// Flush waits for in-flight audit writes. Used on shutdown and in tests.
func (c *TracedClient) Flush() {
	c.pending.Wait()
}

func (c *TracedClient) logRequest(correlationID, tenantID, operation string, req *http.Request, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"tenant_id", tenantID,
		"provider", c.provider,
		"operation", operation,
		"url", req.URL.String(),
	}
	if c.logReqBody && len(body) > 0 {
		attrs = append(attrs, "request_body", security.SanitizeBody(body, c.maxBodySize))
	}
	c.log.Debug("provider_request", attrs...)
}

func (c *TracedClient) logResponse(correlationID, tenantID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"tenant_id", tenantID,
		"provider", c.provider,
		"operation", operation,
		"url", req.URL.String(),
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		c.log.Error("provider_request_failed", attrs...)
		return
	}

	attrs = append(attrs, "status", resp.StatusCode, "response_size_bytes", len(body))
	if c.logRespBody && len(body) > 0 {
		attrs = append(attrs, "response_body", security.SanitizeBody(body, c.maxBodySize))
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("provider_response", attrs...)
	case resp.StatusCode >= 400:
		c.log.Warn("provider_response", attrs...)
	default:
		c.log.Info("provider_response", attrs...)
	}
}

func (c *TracedClient) buildAuditLog(correlationID, tenantID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, requestBody, responseBody []byte) audit.ProviderAuditLog {
	entry := audit.ProviderAuditLog{
		CorrelationID:  correlationID,
		TenantID:       tenantID,
		Provider:       c.provider,
		Operation:      operation,
		RequestMethod:  req.Method,
		RequestURL:     req.URL.String(),
		RequestHeaders: security.SanitizeHeaders(req.Header),
		RequestBody:    security.SanitizeBody(requestBody, c.maxBodySize),
		DurationMs:     duration.Milliseconds(),
	}
	if resp != nil {
		status := resp.StatusCode
		entry.ResponseStatus = &status
		entry.ResponseHeaders = security.SanitizeHeaders(resp.Header)
		entry.ResponseBody = security.SanitizeBody(responseBody, c.maxBodySize)
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	return entry
}

// extractOperation names the exchange after its SOAPAction ("…/FECAESolicitar"),
// falling back to the last URL path segment ("LoginCms").
func (c *TracedClient) extractOperation(req *http.Request) string {
	if action := strings.Trim(req.Header.Get("SOAPAction"), `"`); action != "" {
		if i := strings.LastIndexAny(action, "/#"); i >= 0 && i < len(action)-1 {
			return action[i+1:]
		}
		return action
	}

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if last := parts[len(parts)-1]; last != "" {
		return last
	}
	return fmt.Sprintf("%s_%s", req.Method, c.provider)
}
