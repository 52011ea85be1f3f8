package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
)

// requireSelfOrAdmin ensures the authenticated user operates on their own
// balance; admins may operate on any user.
func (a *App) requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, userID int64) bool {
	user := requestUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return false
	}
	if user.ID != userID && !user.isAdmin() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Cannot operate on another user's tokens")
		return false
	}
	return true
}

func queryUserID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		if u := requestUser(r); u != nil {
			return u.ID, nil
		}
		return 0, fmt.Errorf("userId is required")
	}
	return strconv.ParseInt(raw, 10, 64)
}

// HandleBalance returns the current token balance
// GET /api/v1/tokens/balance?userId=N
func (a *App) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid or missing userId")
		return
	}
	if !a.requireSelfOrAdmin(w, r, userID) {
		return
	}

	// a user with no balance row reads as zero, never as an error
	tokens, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"tokens": tokens})
}

// HandleConsume atomically debits the module cost and records usage
// POST /api/v1/tokens/consume {userId, moduleId, action, description}
func (a *App) HandleConsume(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      int64  `json:"userId"`
		ModuleID    string `json:"moduleId"`
		Action      string `json:"action"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.ModuleID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "moduleId is required")
		return
	}
	if in.UserID == 0 {
		if u := requestUser(r); u != nil {
			in.UserID = u.ID
		}
	}
	if !a.requireSelfOrAdmin(w, r, in.UserID) {
		return
	}

	result := a.Ledger.CheckAndConsume(r.Context(), in.UserID, in.ModuleID, in.Action, in.Description)
	if !result.Success {
		a.writeConsumeFailure(w, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) writeConsumeFailure(w http.ResponseWriter, result ConsumeResult) {
	switch result.Reason {
	case ReasonInsufficientTokens:
		writeDenied(w, http.StatusPaymentRequired, result.Reason, result.TokensRemaining, a.pricingURL)
	case ReasonUnknownModule:
		writeDenied(w, http.StatusNotFound, result.Reason, result.TokensRemaining, "")
	default:
		writeDenied(w, http.StatusInternalServerError, result.Reason, result.TokensRemaining, "")
	}
}

// HandleHistory returns usage records, newest first
// GET /api/v1/tokens/history?userId=N&limit=K
func (a *App) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid or missing userId")
		return
	}
	if !a.requireSelfOrAdmin(w, r, userID) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid limit")
			return
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}

	history, err := a.Ledger.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// HandleGrant mints an access grant without debiting; for clients that have
// already consumed tokens through /tokens/consume
// POST /api/v1/access/grant {userId, moduleId}
func (a *App) HandleGrant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   int64  `json:"userId"`
		ModuleID string `json:"moduleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.UserID == 0 {
		if u := requestUser(r); u != nil {
			in.UserID = u.ID
		}
	}
	if !a.requireSelfOrAdmin(w, r, in.UserID) {
		return
	}
	module, ok := a.Catalog.Get(in.ModuleID)
	if !ok {
		writeError(w, http.StatusNotFound, ReasonUnknownModule, "Module is not in the catalog")
		return
	}

	grant, expiresAt, err := mintAccessGrant(in.UserID, module.ID, a.grantTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ReasonGrantFailed, "Failed to mint access grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     grant,
		"expiresAt": expiresAt.Unix(),
	})
}

// HandleAccess runs the whole access flow server-side: debit, mint, build
// the redirect URL. If minting fails after the debit succeeded, the debit is
// compensated with a refund credit so tokens are never spent without access.
// POST /api/v1/access {userId, moduleId, action}
func (a *App) HandleAccess(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   int64  `json:"userId"`
		ModuleID string `json:"moduleId"`
		Action   string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.UserID == 0 {
		if u := requestUser(r); u != nil {
			in.UserID = u.ID
		}
	}
	if !a.requireSelfOrAdmin(w, r, in.UserID) {
		return
	}
	module, ok := a.Catalog.Get(in.ModuleID)
	if !ok {
		writeDenied(w, http.StatusNotFound, ReasonUnknownModule, 0, "")
		return
	}

	result := a.Ledger.CheckAndConsume(r.Context(), in.UserID, module.ID, in.Action, "access to "+module.Name)
	if !result.Success {
		a.writeConsumeFailure(w, result)
		return
	}

	grant, expiresAt, err := mintAccessGrant(in.UserID, module.ID, a.grantTTL)
	if err != nil {
		log.Printf("access: grant mint failed for user %d module %s, refunding %d tokens: %v",
			in.UserID, module.ID, result.TokensConsumed, err)
		remaining, refundErr := a.Ledger.Refund(r.Context(), in.UserID, result.TokensConsumed, module.ID, "grant issuance failed")
		if refundErr != nil {
			// tokens spent with no access and no refund: needs operator
			// attention, keep it loud
			log.Printf("access: refund failed for user %d module %s: %v", in.UserID, module.ID, refundErr)
			remaining = result.TokensRemaining
		}
		writeDenied(w, http.StatusBadGateway, ReasonGrantFailed, remaining, "")
		return
	}

	redirect := module.BaseURL + "?token=" + url.QueryEscape(grant)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"token":           grant,
		"expiresAt":       expiresAt.Unix(),
		"redirectUrl":     redirect,
		"tokensConsumed":  result.TokensConsumed,
		"tokensRemaining": result.TokensRemaining,
	})
}

// HandleVerifyGrant validates an access grant token; destination modules can
// call this instead of verifying the signature themselves
// GET /api/v1/access/verify?token=...
func (a *App) HandleVerifyGrant(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	claims, err := verifyAccessGrant(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Grant is invalid or expired")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"userId":   claims.UserID,
		"moduleId": claims.ModuleID,
		"exp":      claims.ExpiresAt,
	})
}

// HandleModules lists the module catalog, the same table the debit logic
// enforces, so displayed prices cannot drift from charged prices
// GET /api/v1/modules
func (a *App) HandleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": a.Catalog.List()})
}

// HandleAdminCredit credits tokens to a user's balance
// POST /api/v1/admin/credit {userId, amount, description}
func (a *App) HandleAdminCredit(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if !user.isAdmin() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Admin role required")
		return
	}

	var in struct {
		UserID      int64  `json:"userId"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.UserID == 0 || in.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "userId and a positive amount are required")
		return
	}

	target, err := a.DB.GetUserByID(r.Context(), in.UserID)
	if err != nil || target == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "No such user")
		return
	}

	balance, err := a.Ledger.Credit(r.Context(), in.UserID, in.Amount, ActionAdminCredit, in.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to credit tokens")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int64{"tokens": balance})
}
