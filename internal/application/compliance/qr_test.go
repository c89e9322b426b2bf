package compliance

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

func authorizedDocument() fiscal.FiscalDocument {
	return fiscal.FiscalDocument{
		SalesPoint:        3,
		DocumentType:      fiscal.InvoiceA,
		SequenceNumber:    42,
		IssueDate:         time.Date(2026, 10, 19, 0, 0, 0, 0, fiscal.Location),
		ReceiverDocType:   fiscal.ReceiverCUIT,
		ReceiverDocNumber: 30712345671,
		Total:             decimal.RequireFromString("12100"),
		Currency:          "PES",
		ExchangeRate:      decimal.NewFromInt(1),
		CAE:               "76123456789012",
	}
}

func TestBuildQR_RoundTrip(t *testing.T) {
	payload, err := NewQRPayload("20-11111111-2", authorizedDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url, err := BuildQR(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, QRBaseURL) {
		t.Fatalf("unexpected url %q", url)
	}

	decoded, err := DecodeQR(url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.CUIT != 20111111112 {
		t.Errorf("expected CUIT without separators, got %d", decoded.CUIT)
	}
	if decoded.AuthorizationCode != 76123456789012 {
		t.Errorf("expected codAut == CAE, got %d", decoded.AuthorizationCode)
	}
	if decoded.AuthorizationKind != "E" {
		t.Errorf("expected tipoCodAut E, got %q", decoded.AuthorizationKind)
	}
	if decoded.Date != "2026-10-19" || decoded.SalesPoint != 3 || decoded.DocumentType != 1 || decoded.Number != 42 {
		t.Errorf("unexpected identification fields %+v", decoded)
	}
	if decoded.Amount.String() != "12100.00" || decoded.Currency != "PES" || decoded.ExchangeRate.String() != "1" {
		t.Errorf("unexpected amount fields %+v", decoded)
	}
	if decoded.ReceiverDocType != 80 || decoded.ReceiverDocNumber != 30712345671 {
		t.Errorf("unexpected receiver fields %+v", decoded)
	}
	if decoded.Version != 1 {
		t.Errorf("expected version 1, got %d", decoded.Version)
	}
}

func TestBuildQR_JSONShape(t *testing.T) {
	payload, err := NewQRPayload("20111111112", authorizedDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	url, _ := BuildQR(payload)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, QRBaseURL))
	if err != nil {
		t.Fatalf("payload is not standard base64: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	for _, key := range []string{"ver", "fecha", "cuit", "ptoVta", "tipoCmp", "nroCmp", "importe", "moneda", "ctz", "tipoDocRec", "nroDocRec", "tipoCodAut", "codAut"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("payload lacks %q: %s", key, raw)
		}
	}
	if !strings.Contains(string(raw), `"importe":12100.00`) {
		t.Errorf("expected importe as a number with two decimals: %s", raw)
	}
}

func TestDecodeQR_PlusSurvives(t *testing.T) {
	// '+' in base64 must not be read as a space
	raw := []byte(`{"ver":1,"fecha":"2026-10-19","cuit":20111111112,"ptoVta":1,"tipoCmp":6,"nroCmp":1,"importe":1.00,"moneda":"PES","ctz":1,"tipoCodAut":"E","codAut":70000000000001,"x":">>>"}`)
	encoded := base64.StdEncoding.EncodeToString(raw)
	if !strings.ContainsAny(encoded, "+/") {
		t.Skip("sample does not exercise base64 '+' or '/'")
	}

	decoded, err := DecodeQR(QRBaseURL + encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.AuthorizationCode != 70000000000001 {
		t.Errorf("unexpected codAut %d", decoded.AuthorizationCode)
	}
}

func TestDecodeQR_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"missing parameter", "https://www.afip.gob.ar/fe/qr/"},
		{"not base64", QRBaseURL + "%%%"},
		{"not JSON", QRBaseURL + base64.StdEncoding.EncodeToString([]byte("nope"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeQR(tt.url); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewQRPayload_InvalidInputs(t *testing.T) {
	doc := authorizedDocument()
	if _, err := NewQRPayload("", doc); err == nil {
		t.Error("expected error for missing CUIT")
	}
	doc.CAE = ""
	if _, err := NewQRPayload("20111111112", doc); err == nil {
		t.Error("expected error for missing CAE")
	}
}
