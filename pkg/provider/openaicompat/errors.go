package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/kgquery/pkg/api"
)

// statusMessages are used when the backend sends no error message.
var statusMessages = map[int]string{
	http.StatusUnauthorized:    "backend authentication failed",
	http.StatusForbidden:       "backend authentication failed",
	http.StatusNotFound:        "backend model or endpoint not found",
	http.StatusTooManyRequests: "backend rate limit exceeded",
}

// MapHTTPError converts a non-2xx backend response into an APIError. Only
// rate limiting is passed through as such; every other status is a
// backend_error, since a rejected prompt is never the caller's fault.
func MapHTTPError(resp *http.Response) *api.APIError {
	msg := backendMessage(resp.Body)
	if msg == "" {
		msg = statusMessages[resp.StatusCode]
	}
	if msg == "" {
		msg = fmt.Sprintf("backend error (HTTP %d)", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return api.NewTooManyRequestsError(msg)
	}
	return api.NewBackendError(msg)
}

// MapNetworkError converts a transport failure into an APIError.
func MapNetworkError(err error) *api.APIError {
	return api.NewBackendError("backend connection error: " + err.Error())
}

// backendMessage returns error.message from a Chat Completions error body.
func backendMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	var errResp chatErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&errResp); err != nil {
		return ""
	}
	return errResp.Error.Message
}
