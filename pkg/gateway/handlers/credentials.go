package handlers

import (
	"net/http"

	"github.com/dialwire/dialwire/pkg/gateway/mw"
	"github.com/dialwire/dialwire/pkg/orchestrator"
)

// ValidateCredentialsHandler checks the user's saved provider key:
// POST /v1/credentials/validate.
type ValidateCredentialsHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

func (h ValidateCredentialsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userID := userIDFrom(r, r.URL.Query().Get("userId"))
	if userID == "" {
		invalidRequest(w, reqID, "user id is required", "userId")
		return
	}

	valid, err := h.Orchestrator.ValidateCredentials(r.Context(), userID)
	if err != nil {
		writeErrorEnvelope(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}
