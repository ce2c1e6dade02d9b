package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPErrorResponse wraps a GatewayError for HTTP JSON responses.
type HTTPErrorResponse struct {
	Error GatewayError `json:"error"`
}

// WriteHTTPError writes err as an HTTP JSON response. Wrapped GatewayErrors
// are unwrapped so callers can decorate with fmt.Errorf("%w") freely; anything
// else renders as an opaque 500.
func WriteHTTPError(w http.ResponseWriter, err error) {
	ge := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	json.NewEncoder(w).Encode(HTTPErrorResponse{Error: *ge})
}

// From extracts the GatewayError from err's chain, or returns a generic
// internal error. The original message is not leaked to callers.
func From(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return &GatewayError{Status: 500, Code: "INTERNAL", Message: "Internal error"}
}
