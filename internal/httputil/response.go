package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
)

// StatusClientClosedRequest is reported when the caller went away or the
// signing service was torn down mid-request.
const StatusClientClosedRequest = 499

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, StatusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeInvalidPairing,
		apperrors.ErrCodeDecode:
		return http.StatusBadRequest

	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	case apperrors.ErrCodeConflict,
		apperrors.ErrCodeNotConnected:
		return http.StatusConflict

	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// The remote signer answered, but with a failure.
	case apperrors.ErrCodeRemoteSigner:
		return http.StatusBadGateway

	case apperrors.ErrCodeTransport:
		return http.StatusServiceUnavailable

	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout

	case apperrors.ErrCodeCancelled:
		return StatusClientClosedRequest

	default:
		return http.StatusInternalServerError
	}
}
