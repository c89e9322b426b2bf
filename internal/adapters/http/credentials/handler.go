package credentials

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/application/ticket"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler exposes tenant onboarding and the ticket lifecycle.
type Handler struct {
	authority *ticket.Authority
	log       *slog.Logger
}

// NewHandler creates a new credentials HTTP handler.
func NewHandler(authority *ticket.Authority, log *slog.Logger) *Handler {
	return &Handler{authority: authority, log: log}
}

// ConfigRequest is the body of PUT /api/v1/fiscal/config. Either the PEM pair or
// a base64 PKCS#12 bundle must be present.
type ConfigRequest struct {
	Environment    string `json:"environment"`
	CUIT           string `json:"cuit"`
	CertificatePEM string `json:"certificatePem"`
	PrivateKeyPEM  string `json:"privateKeyPem"`
	PKCS12         []byte `json:"pkcs12"`
	KeyPassphrase  string `json:"keyPassphrase"`
}

func (req ConfigRequest) validate() []string {
	var errs []string
	if _, ok := fiscal.ParseEnvironment(req.Environment); !ok {
		errs = append(errs, "environment debe ser TEST o PROD")
	}
	if len(req.PKCS12) == 0 {
		if strings.TrimSpace(req.CertificatePEM) == "" {
			errs = append(errs, "certificatePem es requerido")
		}
		if strings.TrimSpace(req.PrivateKeyPEM) == "" {
			errs = append(errs, "privateKeyPem es requerido")
		}
	}
	if req.CUIT != "" && !fiscal.ValidCUIT(req.CUIT) {
		errs = append(errs, "cuit inválido")
	}
	return errs
}

// GetConfig handles GET /api/v1/fiscal/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	summary, err := h.authority.Describe(r.Context(), tenantID)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, summary, h.log)
}

// PutConfig handles PUT /api/v1/fiscal/config.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, nil)
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", errs, nil)
		return
	}

	env, _ := fiscal.ParseEnvironment(req.Environment)
	summary, err := h.authority.Configure(r.Context(), tenantID, fiscal.Credentials{
		Environment:    env,
		CertificatePEM: req.CertificatePEM,
		PrivateKeyPEM:  req.PrivateKeyPEM,
		PKCS12:         req.PKCS12,
		KeyPassphrase:  req.KeyPassphrase,
		CUIT:           req.CUIT,
	})
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, summary, h.log)
}

// ValidateCertificateRequest is the body of POST /api/v1/fiscal/certificate/validate.
type ValidateCertificateRequest struct {
	CertificatePEM string `json:"certificatePem"`
}

// ValidateCertificate handles POST /api/v1/fiscal/certificate/validate. Nothing is stored.
func (h *Handler) ValidateCertificate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CertificatePEM) == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"certificatePem es requerido"}, nil)
		return
	}

	info, err := h.authority.ValidateCertificate(req.CertificatePEM)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, info, h.log)
}

// TicketResponse never carries the token or sign.
type TicketResponse struct {
	Status    fiscal.ConfigStatus `json:"status"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// RequestTicket handles POST /api/v1/fiscal/ticket: obtains (or reuses) the
// tenant's access ticket, which also proves the credentials work.
func (h *Handler) RequestTicket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	issued, err := h.authority.GetTicket(r.Context(), tenantID)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}

	status := fiscal.StatusActive
	if summary, err := h.authority.Describe(r.Context(), tenantID); err == nil {
		status = summary.Status
	} else if !errors.Is(err, fiscal.ErrNotFound) {
		h.log.Warn("Failed to describe fiscal config after ticket", "tenant_id", tenantID, "error", err)
	}
	httperrors.WriteJSON(w, http.StatusOK, TicketResponse{Status: status, ExpiresAt: issued.ExpiresAt}, h.log)
}
