package authorization

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appauthorization "3tcapital/ms_facturacion_afip/internal/application/authorization"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the authorization application service.
type Handler struct {
	service *appauthorization.Service
	log     *slog.Logger
}

// NewHandler creates a new authorization HTTP handler.
func NewHandler(service *appauthorization.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// AssociatedRequest references the document a credit or debit note adjusts.
type AssociatedRequest struct {
	Type       int    `json:"type"`
	SalesPoint int    `json:"salesPoint"`
	Number     int64  `json:"number"`
	CUIT       string `json:"cuit"`
	Date       string `json:"date"`
}

// AuthorizationRequest is the body of POST /api/v1/fiscal/authorizations.
// Dates use YYYY-MM-DD in Argentina time.
type AuthorizationRequest struct {
	InvoiceRef        string              `json:"invoiceRef"`
	SalesPoint        int                 `json:"salesPoint"`
	DocumentType      int                 `json:"documentType"`
	Concept           int                 `json:"concept"`
	ReceiverDocType   int                 `json:"receiverDocType"`
	ReceiverDocNumber int64               `json:"receiverDocNumber"`
	ReceiverVATStatus int                 `json:"receiverVatStatus"`
	Date              string              `json:"date"`
	ServiceFrom       string              `json:"serviceFrom"`
	ServiceTo         string              `json:"serviceTo"`
	PaymentDue        string              `json:"paymentDue"`
	Net               decimal.Decimal     `json:"net"`
	NonTaxed          decimal.Decimal     `json:"nonTaxed"`
	Exempt            decimal.Decimal     `json:"exempt"`
	VAT               decimal.Decimal     `json:"vat"`
	OtherTaxes        decimal.Decimal     `json:"otherTaxes"`
	Total             decimal.Decimal     `json:"total"`
	Currency          string              `json:"currency"`
	ExchangeRate      decimal.Decimal     `json:"exchangeRate"`
	VATLines          []fiscal.VATLine    `json:"vatLines"`
	Taxes             []fiscal.TaxLine    `json:"taxes"`
	Associated        []AssociatedRequest `json:"associated"`
}

func parseDate(field, value string, required bool, errs *[]string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			*errs = append(*errs, field+" es requerido")
		}
		return time.Time{}
	}
	t, err := time.ParseInLocation(time.DateOnly, value, fiscal.Location)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s debe tener formato YYYY-MM-DD", field))
	}
	return t
}

func (req AuthorizationRequest) draft(tenantID string) (fiscal.Draft, []string) {
	var errs []string
	d := fiscal.Draft{
		TenantID:          tenantID,
		InvoiceRef:        strings.TrimSpace(req.InvoiceRef),
		SalesPoint:        req.SalesPoint,
		DocumentType:      fiscal.DocumentType(req.DocumentType),
		Concept:           fiscal.Concept(req.Concept),
		ReceiverDocType:   req.ReceiverDocType,
		ReceiverDocNumber: req.ReceiverDocNumber,
		ReceiverVATStatus: req.ReceiverVATStatus,
		Date:              parseDate("date", req.Date, true, &errs),
		ServiceFrom:       parseDate("serviceFrom", req.ServiceFrom, false, &errs),
		ServiceTo:         parseDate("serviceTo", req.ServiceTo, false, &errs),
		PaymentDue:        parseDate("paymentDue", req.PaymentDue, false, &errs),
		Net:               req.Net,
		NonTaxed:          req.NonTaxed,
		Exempt:            req.Exempt,
		VAT:               req.VAT,
		OtherTaxes:        req.OtherTaxes,
		Total:             req.Total,
		Currency:          req.Currency,
		ExchangeRate:      req.ExchangeRate,
		VATLines:          req.VATLines,
		Taxes:             req.Taxes,
	}
	for i, a := range req.Associated {
		d.Associated = append(d.Associated, fiscal.AssociatedDocument{
			Type:       fiscal.DocumentType(a.Type),
			SalesPoint: a.SalesPoint,
			Number:     a.Number,
			CUIT:       fiscal.NormalizeCUIT(a.CUIT),
			Date:       parseDate(fmt.Sprintf("associated[%d].date", i), a.Date, false, &errs),
		})
	}
	return d, errs
}

// RejectionResponse is returned with 422 when AFIP refuses a document; the
// recorded attempt is included so the caller sees the burned number.
type RejectionResponse struct {
	httperrors.ErrorResponse
	Document fiscal.FiscalDocument `json:"document"`
}

// Authorize handles POST /api/v1/fiscal/authorizations.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	var req AuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, nil)
		return
	}
	draft, errs := req.draft(tenantID)
	if len(errs) > 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", errs, nil)
		return
	}

	doc, err := h.service.Authorize(r.Context(), draft)
	if err != nil {
		var rejection *fiscal.RejectionError
		if errors.As(err, &rejection) {
			httperrors.WriteJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
				ErrorResponse: httperrors.ErrorResponse{
					Message:      "Comprobante rechazado por AFIP",
					Errors:       []string{rejection.Error()},
					Kind:         "rejection",
					Observations: rejection.Observations,
				},
				Document: doc,
			}, h.log)
			return
		}
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusCreated, doc, h.log)
}

func sequenceParams(w http.ResponseWriter, r *http.Request) (int, fiscal.DocumentType, bool) {
	pv, err := strconv.Atoi(chi.URLParam(r, "pv"))
	if err != nil || pv < 1 || pv > 99998 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"pv debe estar entre 1 y 99998"}, nil)
		return 0, 0, false
	}
	docType, err := strconv.Atoi(chi.URLParam(r, "type"))
	if err != nil || !fiscal.DocumentType(docType).Valid() {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"tipo de comprobante no soportado"}, nil)
		return 0, 0, false
	}
	return pv, fiscal.DocumentType(docType), true
}

func numberParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number < 1 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"number debe ser un entero positivo"}, nil)
		return 0, false
	}
	return number, true
}

// LastNumberResponse is the body of the last-number query.
type LastNumberResponse struct {
	SalesPoint   int   `json:"salesPoint"`
	DocumentType int   `json:"documentType"`
	LastNumber   int64 `json:"lastNumber"`
	NextNumber   int64 `json:"nextNumber"`
}

// LastNumber handles GET /api/v1/fiscal/sales-points/{pv}/document-types/{type}/last.
func (h *Handler) LastNumber(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}
	pv, docType, ok := sequenceParams(w, r)
	if !ok {
		return
	}

	last, err := h.service.LastAuthorized(r.Context(), tenantID, pv, docType)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, LastNumberResponse{
		SalesPoint:   pv,
		DocumentType: int(docType),
		LastNumber:   last,
		NextNumber:   last + 1,
	}, h.log)
}

// GetDocument handles GET /api/v1/fiscal/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"id debe ser un UUID"}, nil)
		return
	}

	doc, err := h.service.GetDocument(r.Context(), tenantID, id)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, doc, h.log)
}

// GetDocumentByNumber handles
// GET /api/v1/fiscal/sales-points/{pv}/document-types/{type}/documents/{number}.
func (h *Handler) GetDocumentByNumber(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}
	pv, docType, ok := sequenceParams(w, r)
	if !ok {
		return
	}
	number, ok := numberParam(w, r)
	if !ok {
		return
	}

	key := fiscal.SequenceKey{TenantID: tenantID, SalesPoint: pv, DocumentType: docType}
	doc, err := h.service.FindByNumber(r.Context(), key, number)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, doc, h.log)
}

// Consult handles
// GET /api/v1/fiscal/sales-points/{pv}/document-types/{type}/documents/{number}/afip,
// returning AFIP's own copy of the document.
func (h *Handler) Consult(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}
	pv, docType, ok := sequenceParams(w, r)
	if !ok {
		return
	}
	number, ok := numberParam(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.Consult(r.Context(), tenantID, pv, docType, number)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, snapshot, h.log)
}
