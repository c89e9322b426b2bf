package afip

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// HTTPClient interface allows using both standard and traced HTTP clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	maxSOAPBody    = 4 << 20
)

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	SoapNS  string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Content any
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault   *Fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault is a SOAP 1.1 fault returned by an AFIP service.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *Fault) Error() string {
	if f.Code == "" {
		return "soap fault: " + f.String
	}
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// ShortCode strips the namespace prefix ("ns1:cms.cert.expired" -> "cms.cert.expired").
func (f *Fault) ShortCode() string {
	if i := strings.LastIndex(f.Code, ":"); i >= 0 {
		return f.Code[i+1:]
	}
	return f.Code
}

// soapCall describes one SOAP exchange. op names the operation in errors and logs.
type soapCall struct {
	endpoint string
	op       string
	action   string
	payload  any
}

// exchange posts the envelope and returns the raw body element. Transport failures,
// timeouts and 5xx/429 answers without a fault are reported as transient; a fault is
// returned as *Fault for the caller to classify; anything else is a protocol error.
func exchange(ctx context.Context, client HTTPClient, log *slog.Logger, call soapCall) ([]byte, []byte, error) {
	env := requestEnvelope{SoapNS: soapEnvelopeNS, Body: requestBody{Content: call.payload}}
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, nil, fiscal.NewError(fiscal.KindProtocol, call.op, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.endpoint, bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return nil, nil, fiscal.NewError(fiscal.KindConfiguration, call.op, "create request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", call.action))

	log.Debug("Calling AFIP", "action", call.op, "endpoint", call.endpoint)

	resp, err := client.Do(req)
	if err != nil {
		log.Warn("AFIP request failed", "action", call.op, "error", err)
		return nil, nil, transportError(call.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSOAPBody))
	if err != nil {
		return nil, nil, fiscal.NewError(fiscal.KindTransient, call.op, "read response body", err)
	}

	var envelope responseEnvelope
	parseErr := xml.Unmarshal(raw, &envelope)
	if parseErr == nil && envelope.Body.Fault != nil {
		log.Warn("AFIP returned SOAP fault", "action", call.op, "status", resp.StatusCode, "fault_code", envelope.Body.Fault.Code)
		return nil, raw, envelope.Body.Fault
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		log.Warn("AFIP unavailable", "action", call.op, "status", resp.StatusCode)
		return nil, raw, fiscal.NewError(fiscal.KindTransient, call.op, fmt.Sprintf("unexpected status code %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, raw, fiscal.NewError(fiscal.KindProtocol, call.op, fmt.Sprintf("unexpected status code %d", resp.StatusCode), nil)
	}
	if parseErr != nil {
		return nil, raw, fiscal.NewError(fiscal.KindProtocol, call.op, "malformed SOAP envelope", parseErr)
	}
	return envelope.Body.Content, raw, nil
}

func transportError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return fiscal.NewError(fiscal.KindTransient, op, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fiscal.NewError(fiscal.KindTransient, op, "timeout", err)
	default:
		return fiscal.NewError(fiscal.KindTransient, op, "connection failed", err)
	}
}

// decodeBody unmarshals the first element of a SOAP body into out.
func decodeBody(op string, content []byte, out any) error {
	if err := xml.Unmarshal(content, out); err != nil {
		return fiscal.NewError(fiscal.KindProtocol, op, "malformed response", err)
	}
	return nil
}
