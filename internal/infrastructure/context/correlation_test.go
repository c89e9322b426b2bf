package context

import (
	"context"
	"testing"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		correlationID string
	}{
		{
			name:          "adds correlation ID to context",
			correlationID: "test-correlation-123",
		},
		{
			name:          "handles empty correlation ID",
			correlationID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctx = WithCorrelationID(ctx, tt.correlationID)

			result := GetCorrelationID(ctx)
			if result != tt.correlationID {
				t.Errorf("expected %s, got %s", tt.correlationID, result)
			}
		})
	}
}

func TestGetCorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "returns correlation ID when present",
			ctx:      WithCorrelationID(context.Background(), "test-123"),
			expected: "test-123",
		},
		{
			name:     "returns empty string when not present",
			ctx:      context.Background(),
			expected: "",
		},
		{
			name:     "returns empty string for nil context value",
			ctx:      context.WithValue(context.Background(), CorrelationIDKey, nil),
			expected: "",
		},
		{
			name:     "returns empty string for wrong type",
			ctx:      context.WithValue(context.Background(), CorrelationIDKey, 123),
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetCorrelationID(tt.ctx)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestCorrelationIDPropagation(t *testing.T) {
	// Test that correlation ID propagates through context chain
	ctx := context.Background()
	ctx = WithCorrelationID(ctx, "original-id")
	
	// Create derived context
	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	
	// Should still have correlation ID
	if GetCorrelationID(ctx2) != "original-id" {
		t.Error("correlation ID should propagate to derived contexts")
	}
}

func TestTenantID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-1")
	if GetTenantID(ctx) != "" {
		t.Error("expected empty tenant when not set")
	}

	ctx = WithTenantID(ctx, "tenant-42")
	if got := GetTenantID(ctx); got != "tenant-42" {
		t.Errorf("expected tenant-42, got %s", got)
	}
	if got := GetCorrelationID(ctx); got != "corr-1" {
		t.Errorf("tenant id must not shadow correlation id, got %s", got)
	}
}
