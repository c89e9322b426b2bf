package health

import (
	"log/slog"
	"net/http"

	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	corehealth "3tcapital/ms_facturacion_afip/internal/core/health"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the health application service.
type Handler struct {
	service *apphealth.Service
	log     *slog.Logger
}

func NewHandler(service *apphealth.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Status handles GET /health. A DOWN service answers 503 so load balancers
// stop routing to it; DEGRADED still answers 200.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	response := h.service.Status(r.Context())

	code := http.StatusOK
	if response.Status == corehealth.StatusDown {
		code = http.StatusServiceUnavailable
	}
	httperrors.WriteJSON(w, code, response, h.log)
}

// FiscalStatusResponse is the body of GET /api/v1/fiscal/health.
type FiscalStatusResponse struct {
	Environment fiscal.Environment   `json:"environment"`
	Available   bool                 `json:"available"`
	Servers     fiscal.ServiceStatus `json:"servers"`
}

// Fiscal handles GET /api/v1/fiscal/health: AFIP's FEDummy for the caller's environment.
func (h *Handler) Fiscal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	env, servers, err := h.service.FiscalStatus(r.Context(), tenantID)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}

	code := http.StatusOK
	if !servers.OK() {
		code = http.StatusServiceUnavailable
	}
	httperrors.WriteJSON(w, code, FiscalStatusResponse{
		Environment: env,
		Available:   servers.OK(),
		Servers:     servers,
	}, h.log)
}
