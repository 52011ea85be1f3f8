package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Failure reasons surfaced by the consume and access endpoints
const (
	ReasonInsufficientTokens = "INSUFFICIENT_TOKENS"
	ReasonUnknownModule      = "UNKNOWN_MODULE"
	ReasonStorageError       = "STORAGE_ERROR"
	ReasonGrantFailed        = "GRANT_FAILED"
)

// ErrInsufficientTokens is returned by the storage layer when a conditional
// debit finds the balance short; it maps to INSUFFICIENT_TOKENS upstream.
var ErrInsufficientTokens = errors.New("insufficient tokens")

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeDenied writes a failed consume/access outcome. The pricing URL is
// included only for INSUFFICIENT_TOKENS so the client can link to the
// token-purchase page.
func writeDenied(w http.ResponseWriter, status int, reason string, remaining int64, pricingURL string) {
	body := map[string]interface{}{
		"success":         false,
		"reason":          reason,
		"tokensRemaining": remaining,
	}
	if reason == ReasonInsufficientTokens && pricingURL != "" {
		body["pricingUrl"] = pricingURL
	}
	writeJSON(w, status, body)
}
