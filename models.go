package main

import "time"

// User represents a portal account
type User struct {
	ID        int64
	Email     string
	Password  string
	Role      string // "user" or "admin"
	CreatedAt time.Time
}

// RefreshToken represents a refresh token
type RefreshToken struct {
	Token     string
	UserID    int64
	ExpiresAt int64
	Revoked   bool
	CreatedAt time.Time
}

// Module represents an entry in the module catalog: a third-party tool
// reachable through a token-gated access grant.
type Module struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cost    int64  `json:"cost"`
	BaseURL string `json:"baseUrl"`
}

// UsageRecord is an append-only log entry created once per balance mutation.
// TokensConsumed is the signed delta applied to the balance: positive for
// debits, negative for credits (purchases, signup grants, refunds).
type UsageRecord struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"userId"`
	ModuleID       string    `json:"moduleId,omitempty"`
	Action         string    `json:"action"`
	TokensConsumed int64     `json:"tokensConsumed"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"timestamp"`
}

// ConsumeResult is the outcome of a check-and-consume attempt
type ConsumeResult struct {
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	TokensConsumed  int64  `json:"tokensConsumed,omitempty"`
	TokensRemaining int64  `json:"tokensRemaining"`
}

// GrantClaims holds the verified contents of an access grant token
type GrantClaims struct {
	UserID    int64
	ModuleID  string
	GrantID   string
	ExpiresAt int64
}
