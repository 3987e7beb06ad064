package errors

import (
	"encoding/json"
	"net/http"

	"github.com/factgate/factgate/pkg/verify"
)

// HTTPError is the wire shape of a single error.
type HTTPError struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	RequestID  string             `json:"request_id,omitempty"`
	Violations []verify.Violation `json:"violations,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope returned by every
// non-2xx response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPStatus maps a taxonomy kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes err as a JSON error envelope with the status code
// implied by its kind.
func WriteHTTP(w http.ResponseWriter, err error, requestID string) {
	kind := KindOf(err)

	msg := "internal error"
	var pe *Error
	if As(err, &pe) {
		msg = pe.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{
			Code:       string(kind),
			Message:    msg,
			RequestID:  requestID,
			Violations: ViolationsOf(err),
		},
	})
}

// WriteHTTPCode writes a bare envelope for router-level failures
// (404/405) that have no pipeline error behind them.
func WriteHTTPCode(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message, RequestID: requestID},
	})
}
