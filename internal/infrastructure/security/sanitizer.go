package security

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sensitive header names that should be redacted.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"proxy-authorization": true,
}

// Sensitive field names in JSON bodies that should be redacted.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"sign",
	"private_key",
	"privatekey",
	"passphrase",
	"pkcs12",
}

// sensitiveElements are SOAP elements whose text is ticket or signature material.
// in0 carries the signed CMS, loginCmsReturn embeds the escaped ticket.
var sensitiveElements = []string{"token", "sign", "in0", "Token", "Sign"}

const redactedValue = "[REDACTED]"

var (
	xmlElementPattern     = regexp.MustCompile(`(<(?:[\w-]+:)?(` + strings.Join(sensitiveElements, "|") + `)(?:\s[^>]*)?>)[^<]*(</(?:[\w-]+:)?(?:` + strings.Join(sensitiveElements, "|") + `)>)`)
	escapedElementPattern = regexp.MustCompile(`(&lt;(?:token|sign)&gt;)[^&]*(&lt;/(?:token|sign)&gt;)`)
)

// SanitizeHeaders removes sensitive headers from an HTTP header map.
// Returns a new map with sensitive values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
			continue
		}
		sanitized[key] = strings.Join(values, ", ")
	}
	return sanitized
}

// SanitizeBody returns a loggable copy of a SOAP or JSON body with ticket,
// signature and key material redacted, truncated to maxSize bytes when maxSize > 0.
func SanitizeBody(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}

	// gzip magic number
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		decompressed, err := decompressGzip(body)
		if err != nil {
			return fmt.Sprintf("[gzip body, %d bytes, not decompressible]", len(body))
		}
		body = decompressed
	}

	if !utf8.Valid(body) {
		return "[binary body] " + base64.StdEncoding.EncodeToString(truncate(body, maxSize))
	}

	var sanitized string
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '<':
		sanitized = sanitizeXML(string(body))
	case json.Valid(trimmed):
		sanitized = sanitizeJSON(trimmed)
	default:
		sanitized = string(body)
	}

	if maxSize > 0 && len(sanitized) > maxSize {
		return sanitized[:maxSize] + fmt.Sprintf("...[truncated, %d bytes total]", len(sanitized))
	}
	return sanitized
}

func sanitizeXML(body string) string {
	body = xmlElementPattern.ReplaceAllString(body, "${1}"+redactedValue+"${3}")
	return escapedElementPattern.ReplaceAllString(body, "${1}"+redactedValue+"${2}")
}

func sanitizeJSON(body []byte) string {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	out, err := json.Marshal(sanitizeValue(data))
	if err != nil {
		return string(body)
	}
	return string(out)
}

func truncate(b []byte, maxSize int) []byte {
	if maxSize > 0 && len(b) > maxSize {
		return b[:maxSize]
	}
	return b
}

func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, value := range val {
			if isSensitiveField(key) {
				out[key] = redactedValue
			} else {
				out[key] = sanitizeValue(value)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, value := range val {
			out[i] = sanitizeValue(value)
		}
		return out
	default:
		return val
	}
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
