package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
)

// ErrorCode is a stable, machine-readable label for an API error,
// independent of the HTTP status it happens to map to.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
)

// ErrorDetail carries one structured field-level complaint.
type ErrorDetail struct {
	Field string `json:"field,omitempty"`
	Issue string `json:"issue,omitempty"`
}

// APIError is the JSON body every non-2xx Admin API response shares.
type APIError struct {
	Code      ErrorCode     `json:"code"`
	Message   string        `json:"message"`
	Details   []ErrorDetail `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e *APIError) Error() string { return e.Message }

func newAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message, Timestamp: time.Now().UTC()}
}

func writeError(w http.ResponseWriter, status int, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// codeForKind maps the closed gwerrors taxonomy onto the API's own
// error codes, keeping the wire contract stable even if internal Kind
// values are renumbered.
func codeForKind(k gwerrors.Kind) ErrorCode {
	switch k {
	case gwerrors.KindTunnelNotFound:
		return ErrCodeNotFound
	case gwerrors.KindSubdomainTaken:
		return ErrCodeConflict
	case gwerrors.KindInvalidSubdomain:
		return ErrCodeBadRequest
	case gwerrors.KindRateLimited, gwerrors.KindMaxTunnelsPerIP:
		return ErrCodeRateLimit
	case gwerrors.KindServerAtCapacity:
		return ErrCodeUnavailable
	case gwerrors.KindTierLimit, gwerrors.KindForbidden:
		return ErrCodeForbidden
	case gwerrors.KindAuthFailed:
		return ErrCodeUnauthorized
	case gwerrors.KindBodyTooLarge, gwerrors.KindIPBlocked, gwerrors.KindTunnelExpired, gwerrors.KindWebSocketTransferLimit:
		return ErrCodeBadRequest
	case gwerrors.KindSSHHandshakeTimeout:
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}

// writeGatewayError translates a *gwerrors.Error raised by the
// TunnelManager or Supabase gateway into the wire APIError shape,
// reusing the same HTTPStatus mapping the proxy uses.
func writeGatewayError(w http.ResponseWriter, err *gwerrors.Error) {
	status := gwerrors.HTTPStatus(err.Kind)
	writeError(w, status, newAPIError(codeForKind(err.Kind), err.Msg))
}

func respondInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, newAPIError(ErrCodeInternal, message))
}

func respondNotFound(w http.ResponseWriter, resource string) {
	writeError(w, http.StatusNotFound, newAPIError(ErrCodeNotFound, resource+" not found"))
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	writeError(w, http.StatusUnauthorized, newAPIError(ErrCodeUnauthorized, message))
}

func respondForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, newAPIError(ErrCodeForbidden, message))
}

func respondBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, newAPIError(ErrCodeBadRequest, message))
}

func respondConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, newAPIError(ErrCodeConflict, message))
}

func respondValidationErrors(w http.ResponseWriter, errs []ValidationError) {
	details := make([]ErrorDetail, len(errs))
	for i, e := range errs {
		details[i] = ErrorDetail{Field: e.Field, Issue: e.Message}
	}
	apiErr := newAPIError(ErrCodeValidation, "validation failed")
	apiErr.Details = details
	writeError(w, http.StatusBadRequest, apiErr)
}
