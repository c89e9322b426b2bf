package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// ErrorResponse represents a standardized error response format.
type ErrorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
	// Kind and Code are set for fiscal errors so callers can branch without parsing text.
	Kind         string               `json:"kind,omitempty"`
	Code         string               `json:"code,omitempty"`
	Retryable    bool                 `json:"retryable,omitempty"`
	Observations []fiscal.Observation `json:"observations,omitempty"`
}

// RetryAfterSeconds is advertised on transient failures.
const RetryAfterSeconds = 5

// WriteError writes a standardized JSON error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, statusCode int, message string, errs []string, log *slog.Logger) {
	writeErrorResponse(w, statusCode, ErrorResponse{Message: message, Errors: errs}, log)
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, body any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil && log != nil {
		log.Error("failed to encode response", "error", err)
	}
}

// StatusFor maps the fiscal error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var rejection *fiscal.RejectionError
	if errors.As(err, &rejection) {
		return http.StatusUnprocessableEntity
	}
	kind := fiscal.KindOf(err)
	// A tenant that was never onboarded is a configuration problem, not a missing resource.
	if kind == fiscal.KindValidation || kind == fiscal.KindConfiguration {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, fiscal.ErrNotFound) {
		return http.StatusNotFound
	}
	switch kind {
	case fiscal.KindAuthentication:
		return http.StatusFailedDependency
	case fiscal.KindProtocol:
		return http.StatusBadGateway
	case fiscal.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError renders err according to its fiscal kind. Unknown errors are
// logged and reported as a generic internal error.
func WriteDomainError(w http.ResponseWriter, err error, log *slog.Logger) {
	status := StatusFor(err)

	var rejection *fiscal.RejectionError
	if errors.As(err, &rejection) {
		writeErrorResponse(w, status, ErrorResponse{
			Message:      "Comprobante rechazado por AFIP",
			Errors:       []string{rejection.Error()},
			Kind:         "rejection",
			Observations: rejection.Observations,
		}, log)
		return
	}

	if status == http.StatusNotFound {
		writeErrorResponse(w, status, ErrorResponse{Message: "Recurso no encontrado", Errors: []string{err.Error()}}, log)
		return
	}

	var fe *fiscal.Error
	if !errors.As(err, &fe) {
		if log != nil {
			log.Error("unhandled error", "error", err)
		}
		writeErrorResponse(w, status, ErrorResponse{Message: "Error Interno", Errors: []string{"error interno del servidor"}}, log)
		return
	}

	resp := ErrorResponse{
		Message:   messageFor(fe.Kind),
		Errors:    []string{fe.Error()},
		Kind:      fe.Kind.String(),
		Code:      fe.Code,
		Retryable: fe.Kind == fiscal.KindTransient,
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	writeErrorResponse(w, status, resp, log)
}

func messageFor(kind fiscal.Kind) string {
	switch kind {
	case fiscal.KindValidation:
		return "Error de Validación"
	case fiscal.KindConfiguration:
		return "Configuración fiscal inválida"
	case fiscal.KindAuthentication:
		return "AFIP rechazó la autenticación"
	case fiscal.KindProtocol:
		return "Respuesta inesperada de AFIP"
	case fiscal.KindTransient:
		return "AFIP no disponible, reintente"
	default:
		return "Error Interno"
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, response ErrorResponse, log *slog.Logger) {
	if response.Errors == nil {
		response.Errors = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// status is already written
		if log != nil {
			log.Error("failed to encode error response", "error", err)
		}
	}
}
