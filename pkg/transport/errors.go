package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/kgquery/pkg/api"
)

// errorStatus maps each API error type to its HTTP status. Unknown types
// are server errors.
var errorStatus = map[api.ErrorType]int{
	api.ErrorTypeInvalidRequest:  http.StatusBadRequest,
	api.ErrorTypeNotFound:        http.StatusNotFound,
	api.ErrorTypeTooManyRequests: http.StatusTooManyRequests,
	api.ErrorTypeBackendError:    http.StatusBadGateway,
	api.ErrorTypeServerError:     http.StatusInternalServerError,
}

// HTTPStatusFromError returns the HTTP status for err's type. Statuses that
// depend on the request rather than the error (413, 415, 501) are chosen
// by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	if status, ok := errorStatus[err.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes {"error": apiErr} with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
