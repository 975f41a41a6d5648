package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/gateway/apierror"
)

// callResult is the response shape the dashboard consumes on every call
// endpoint: success plus a stable code on failure. Timeout codes are
// rendered by the UI as "check status", never as a failure verdict.
type callResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	CallSID    string `json:"callSid,omitempty"`
	CallLogID  string `json:"callLogId,omitempty"`
	CallStatus string `json:"call_status,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCallError(w http.ResponseWriter, reqID string, err error) {
	coreErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, callResult{
		Success: false,
		Code:    coreErr.Code,
		Message: coreErr.Message,
	})
}

func writeErrorEnvelope(w http.ResponseWriter, reqID string, err error) {
	coreErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func invalidRequest(w http.ResponseWriter, reqID, message, param string) {
	writeErrorEnvelope(w, reqID, core.NewInvalidRequestErrorWithParam(message, param))
}
