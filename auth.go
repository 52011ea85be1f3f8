package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

func createAccessToken(userID int64, role string) (string, error) {
	claims := jwt.MapClaims{"userId": userID, "role": role, "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// parseAccessToken validates a login JWT and returns the user identity
func parseAccessToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("invalid token claims")
	}
	userID, ok := claims["userId"].(float64)
	if !ok {
		return 0, "", errors.New("invalid token claims")
	}
	role, _ := claims["role"].(string)
	return int64(userID), role, nil
}

// mintAccessGrant issues a short-lived signed token authorizing one visit to
// a module. The destination verifies it locally; no round trip to the ledger.
func mintAccessGrant(userID int64, moduleID string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"userId": userID,
		"module": moduleID,
		"jti":    uuid.NewString(),
		"iat":    time.Now().Unix(),
		"exp":    expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(grantSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// verifyAccessGrant checks signature and expiry and returns the grant claims
func verifyAccessGrant(tokenStr string) (*GrantClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return grantSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired grant")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid grant claims")
	}
	userID, ok := claims["userId"].(float64)
	if !ok {
		return nil, errors.New("grant missing user")
	}
	moduleID, ok := claims["module"].(string)
	if !ok || moduleID == "" {
		return nil, errors.New("grant missing module")
	}
	g := &GrantClaims{UserID: int64(userID), ModuleID: moduleID}
	if jti, ok := claims["jti"].(string); ok {
		g.GrantID = jti
	}
	if exp, ok := claims["exp"].(float64); ok {
		g.ExpiresAt = int64(exp)
	}
	return g, nil
}
