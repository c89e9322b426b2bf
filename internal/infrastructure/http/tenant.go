package http

import (
	"net/http"

	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
)

// RequireTenant returns the tenant resolved by the auth middleware. When none
// is present it writes 401 and returns false.
func RequireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := ctxutil.GetTenantID(r.Context())
	if tenantID == "" {
		WriteError(w, http.StatusUnauthorized, "No autorizado", []string{"no se pudo determinar el tenant de la petición"}, nil)
		return "", false
	}
	return tenantID, true
}
