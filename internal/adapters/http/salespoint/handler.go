package salespoint

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appsalespoint "3tcapital/ms_facturacion_afip/internal/application/salespoint"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the sales point registry.
type Handler struct {
	service *appsalespoint.Service
	log     *slog.Logger
}

// NewHandler creates a new sales point HTTP handler.
func NewHandler(service *appsalespoint.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// ListResponse wraps the sales point list.
type ListResponse struct {
	Total int                 `json:"total"`
	Data  []fiscal.SalesPoint `json:"data"`
}

func list(points []fiscal.SalesPoint) ListResponse {
	if points == nil {
		points = []fiscal.SalesPoint{}
	}
	return ListResponse{Total: len(points), Data: points}
}

// List handles GET /api/v1/fiscal/sales-points.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	points, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, list(points), h.log)
}

// UpsertRequest is the body of PUT /api/v1/fiscal/sales-points/{number}.
// Active defaults to true when omitted.
type UpsertRequest struct {
	Active       *bool               `json:"active"`
	EmissionKind fiscal.EmissionKind `json:"emissionKind"`
	Default      bool                `json:"default"`
	Blocked      bool                `json:"blocked"`
}

// Upsert handles PUT /api/v1/fiscal/sales-points/{number}.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"number debe ser numérico"}, nil)
		return
	}

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, nil)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	point, err := h.service.Upsert(r.Context(), fiscal.SalesPoint{
		TenantID:     tenantID,
		Number:       number,
		Active:       active,
		EmissionKind: req.EmissionKind,
		Default:      req.Default,
		Blocked:      req.Blocked,
	})
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, point, h.log)
}

// Sync handles POST /api/v1/fiscal/sales-points/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httperrors.RequireTenant(w, r)
	if !ok {
		return
	}

	points, err := h.service.Sync(r.Context(), tenantID)
	if err != nil {
		httperrors.WriteDomainError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, list(points), h.log)
}
