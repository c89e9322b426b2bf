package compliance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// QRBaseURL is the fixed AFIP verification URL the payload is appended to.
const QRBaseURL = "https://www.afip.gob.ar/fe/qr/?p="

const (
	qrVersion       = 1
	qrDateLayout    = "2006-01-02"
	qrElectronicCAE = "E"
)

// QRPayload is the JSON document AFIP defines for the compliance QR code.
type QRPayload struct {
	Version           int         `json:"ver"`
	Date              string      `json:"fecha"`
	CUIT              int64       `json:"cuit"`
	SalesPoint        int         `json:"ptoVta"`
	DocumentType      int         `json:"tipoCmp"`
	Number            int64       `json:"nroCmp"`
	Amount            json.Number `json:"importe"`
	Currency          string      `json:"moneda"`
	ExchangeRate      json.Number `json:"ctz"`
	ReceiverDocType   int         `json:"tipoDocRec,omitempty"`
	ReceiverDocNumber int64       `json:"nroDocRec,omitempty"`
	AuthorizationKind string      `json:"tipoCodAut"`
	AuthorizationCode int64       `json:"codAut"`
}

// NewQRPayload builds the payload for an authorized document issued by cuit.
func NewQRPayload(cuit string, doc fiscal.FiscalDocument) (QRPayload, error) {
	issuer, err := strconv.ParseInt(fiscal.NormalizeCUIT(cuit), 10, 64)
	if err != nil {
		return QRPayload{}, fmt.Errorf("issuer CUIT %q: %w", cuit, err)
	}
	code, err := strconv.ParseInt(strings.TrimSpace(doc.CAE), 10, 64)
	if err != nil {
		return QRPayload{}, fmt.Errorf("CAE %q: %w", doc.CAE, err)
	}

	return QRPayload{
		Version:           qrVersion,
		Date:              doc.IssueDate.In(fiscal.Location).Format(qrDateLayout),
		CUIT:              issuer,
		SalesPoint:        doc.SalesPoint,
		DocumentType:      int(doc.DocumentType),
		Number:            doc.SequenceNumber,
		Amount:            json.Number(doc.Total.StringFixed(2)),
		Currency:          doc.Currency,
		ExchangeRate:      json.Number(doc.ExchangeRate.String()),
		ReceiverDocType:   doc.ReceiverDocType,
		ReceiverDocNumber: doc.ReceiverDocNumber,
		AuthorizationKind: qrElectronicCAE,
		AuthorizationCode: code,
	}, nil
}

// BuildQR encodes the payload into the verification URL.
func BuildQR(payload QRPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal QR payload: %w", err)
	}
	return QRBaseURL + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeQR extracts the payload from a verification URL.
func DecodeQR(qrURL string) (QRPayload, error) {
	u, err := url.Parse(strings.TrimSpace(qrURL))
	if err != nil {
		return QRPayload{}, fmt.Errorf("parse QR url: %w", err)
	}

	// The raw query is read by hand: url.Values would turn the base64 '+' into a space.
	var encoded string
	for _, part := range strings.Split(u.RawQuery, "&") {
		if value, ok := strings.CutPrefix(part, "p="); ok {
			encoded, err = url.PathUnescape(value)
			if err != nil {
				return QRPayload{}, fmt.Errorf("unescape QR payload: %w", err)
			}
			break
		}
	}
	if encoded == "" {
		return QRPayload{}, fmt.Errorf("QR url has no p parameter")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return QRPayload{}, fmt.Errorf("decode QR payload: %w", err)
		}
	}

	var payload QRPayload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return QRPayload{}, fmt.Errorf("unmarshal QR payload: %w", err)
	}
	return payload, nil
}
