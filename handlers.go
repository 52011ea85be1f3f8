package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type creds struct{ Email, Password string }

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if c.Email == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	hashed, err := hashPassword(c.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	user, err := a.DB.CreateUser(r.Context(), c.Email, hashed, "user")
	if err != nil {
		writeError(w, http.StatusConflict, "USER_EXISTS", "User with this email already exists")
		return
	}

	// seed the token balance; the welcome grant may be zero
	tokens := int64(0)
	if a.signupGrant > 0 {
		tokens, err = a.Ledger.Credit(r.Context(), user.ID, a.signupGrant, ActionSignupGrant, "welcome tokens")
		if err != nil {
			log.Printf("register: signup grant failed for user %d: %v", user.ID, err)
		}
	}

	access, _ := createAccessToken(user.ID, user.Role)
	ref, _ := genToken(32)
	a.DB.CreateRefreshToken(r.Context(), ref, user.ID, time.Now().Add(30*24*time.Hour).Unix())
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user": map[string]interface{}{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
		"tokens":       tokens,
		"accessToken":  access,
		"refreshToken": ref,
	})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	user, err := a.DB.GetUserByEmail(r.Context(), c.Email)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if !comparePassword(user.Password, c.Password) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	tokens, err := a.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		log.Printf("login: balance read failed for user %d: %v", user.ID, err)
	}

	access, _ := createAccessToken(user.ID, user.Role)
	ref, _ := genToken(32)
	a.DB.CreateRefreshToken(r.Context(), ref, user.ID, time.Now().Add(30*24*time.Hour).Unix())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
		"tokens":       tokens,
		"accessToken":  access,
		"refreshToken": ref,
	})
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct{ RefreshToken string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}
	row, _ := a.DB.GetRefreshToken(r.Context(), in.RefreshToken)
	if row == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}
	if row.Revoked {
		a.DB.RevokeAllRefreshTokensForUser(r.Context(), row.UserID)
		writeError(w, http.StatusUnauthorized, "TOKEN_REUSE_DETECTED", "Token reuse detected - all tokens revoked")
		return
	}
	if row.ExpiresAt < time.Now().Unix() {
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired")
		return
	}

	user, err := a.DB.GetUserByID(r.Context(), row.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}

	// rotate
	a.DB.RevokeRefreshToken(r.Context(), in.RefreshToken)
	newRef, _ := genToken(32)
	a.DB.CreateRefreshToken(r.Context(), newRef, row.UserID, time.Now().Add(30*24*time.Hour).Unix())
	access, _ := createAccessToken(user.ID, user.Role)
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken":  access,
		"refreshToken": newRef,
	})
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct{ RefreshToken string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}
	if err := a.DB.RevokeRefreshToken(r.Context(), in.RefreshToken); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Token not found or already revoked")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"revoked": true})
}
