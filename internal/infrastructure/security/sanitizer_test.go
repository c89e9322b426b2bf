package security

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"testing"
)

func TestSanitizeHeaders(t *testing.T) {
	headers := http.Header{
		"Authorization": []string{"Bearer secret-token"},
		"Content-Type":  []string{"text/xml; charset=utf-8"},
		"Soapaction":    []string{"http://ar.gov.afip.dif.FEV1/FECAESolicitar"},
		"Accept":        []string{"text/xml", "application/soap+xml"},
	}

	result := SanitizeHeaders(headers)

	if result["Authorization"] != redactedValue {
		t.Errorf("expected Authorization redacted, got %q", result["Authorization"])
	}
	if result["Soapaction"] != "http://ar.gov.afip.dif.FEV1/FECAESolicitar" {
		t.Errorf("unexpected SOAPAction %q", result["Soapaction"])
	}
	if result["Accept"] != "text/xml, application/soap+xml" {
		t.Errorf("expected joined values, got %q", result["Accept"])
	}
}

func TestSanitizeBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		maxSize    int
		leaks      []string
		mustRemain []string
	}{
		{
			name: "WSFE auth block",
			body: `<soap:Envelope><soap:Body><FECAESolicitar xmlns="http://ar.gov.afip.dif.FEV1/">` +
				`<Auth><Token>PD94bWwg</Token><Sign>c2lnbmF0</Sign><Cuit>20111111112</Cuit></Auth>` +
				`</FECAESolicitar></soap:Body></soap:Envelope>`,
			leaks:      []string{"PD94bWwg", "c2lnbmF0"},
			mustRemain: []string{"<Cuit>20111111112</Cuit>", "<Token>" + redactedValue + "</Token>"},
		},
		{
			name:       "loginCms request",
			body:       `<soap:Envelope><soap:Body><wsaa:loginCms><wsaa:in0>MIIGcAYJKoZIhvcN</wsaa:in0></wsaa:loginCms></soap:Body></soap:Envelope>`,
			leaks:      []string{"MIIGcAYJKoZIhvcN"},
			mustRemain: []string{"<wsaa:in0>" + redactedValue + "</wsaa:in0>"},
		},
		{
			name: "escaped ticket in loginCmsReturn",
			body: `<loginCmsReturn>&lt;credentials&gt;&lt;token&gt;tok-123&lt;/token&gt;` +
				`&lt;sign&gt;sig-456&lt;/sign&gt;&lt;/credentials&gt;</loginCmsReturn>`,
			leaks:      []string{"tok-123", "sig-456"},
			mustRemain: []string{"&lt;credentials&gt;"},
		},
		{
			name:       "JSON body",
			body:       `{"cuit":"20111111112","privateKey":"-----BEGIN","nested":{"passphrase":"x"}}`,
			leaks:      []string{"-----BEGIN", `"passphrase":"x"`},
			mustRemain: []string{`"cuit":"20111111112"`},
		},
		{
			name:       "truncated",
			body:       strings.Repeat("a", 50),
			maxSize:    10,
			mustRemain: []string{"aaaaaaaaaa...[truncated, 50 bytes total]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeBody([]byte(tt.body), tt.maxSize)
			for _, leak := range tt.leaks {
				if strings.Contains(result, leak) {
					t.Errorf("sanitized body leaks %q: %s", leak, result)
				}
			}
			for _, want := range tt.mustRemain {
				if !strings.Contains(result, want) {
					t.Errorf("sanitized body missing %q: %s", want, result)
				}
			}
		})
	}
}

func TestSanitizeBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`<Auth><Token>secret</Token></Auth>`))
	_ = zw.Close()

	result := SanitizeBody(buf.Bytes(), 0)
	if result != "<Auth><Token>"+redactedValue+"</Token></Auth>" {
		t.Errorf("unexpected result %q", result)
	}
}

func TestSanitizeBody_Empty(t *testing.T) {
	if got := SanitizeBody(nil, 100); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
