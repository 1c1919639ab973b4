package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
)

// Error codes returned by the daemon.
const (
	CodeOfflineUnavailable  = "OFFLINE_UNAVAILABLE"
	CodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	CodeMethodNotSupported  = "METHOD_NOT_SUPPORTED"
	CodeBadRequest          = "BAD_REQUEST"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeNotificationFailed  = "NOTIFICATION_FAILED"
	CodeInternal            = "INTERNAL"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
