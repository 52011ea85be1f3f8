package main

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Actions recorded in the usage log
const (
	ActionModuleAccess = "module_access"
	ActionPurchase     = "purchase"
	ActionSignupGrant  = "signup_grant"
	ActionRefund       = "refund"
	ActionAdminCredit  = "admin_credit"
)

// Ledger is the single authority for reading and mutating token balances.
// Atomicity lives in the DB adapters; this layer adds cost lookup, usage
// record construction and error classification.
type Ledger struct {
	db      DB
	catalog *Catalog
}

func NewLedger(db DB, catalog *Catalog) *Ledger {
	return &Ledger{db: db, catalog: catalog}
}

// Balance returns the current balance, zero for users with no balance row
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	return l.db.GetBalance(ctx, userID)
}

// CheckAndConsume looks up the module cost and atomically debits it,
// appending a usage record in the same transaction. On failure no state
// changes and Reason explains why.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID int64, moduleID, action, description string) ConsumeResult {
	cost, ok := l.catalog.Cost(moduleID)
	if !ok {
		// configuration error: should never reach an end user in a
		// correct deployment
		log.Printf("consume: unknown module %q requested by user %d", moduleID, userID)
		return ConsumeResult{Success: false, Reason: ReasonUnknownModule}
	}
	if action == "" {
		action = ActionModuleAccess
	}

	rec := &UsageRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ModuleID:       moduleID,
		Action:         action,
		TokensConsumed: cost,
		Description:    description,
	}

	remaining, err := l.db.DebitTokens(ctx, userID, cost, rec)
	if err == ErrInsufficientTokens {
		return ConsumeResult{Success: false, Reason: ReasonInsufficientTokens, TokensRemaining: remaining}
	}
	if err != nil {
		log.Printf("consume: debit failed for user %d module %s: %v", userID, moduleID, err)
		return ConsumeResult{Success: false, Reason: ReasonStorageError}
	}

	return ConsumeResult{Success: true, TokensConsumed: cost, TokensRemaining: remaining}
}

// Credit increments a balance and appends a usage record. Used for signup
// grants, purchases, admin credits and compensating refunds.
func (l *Ledger) Credit(ctx context.Context, userID, amount int64, action, description string) (int64, error) {
	rec := &UsageRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		Action:         action,
		TokensConsumed: -amount,
		Description:    description,
	}
	return l.db.CreditTokens(ctx, userID, amount, rec)
}

// Refund compensates a completed debit whose follow-up work failed. The
// credit is recorded against the original module so the history shows the
// round trip.
func (l *Ledger) Refund(ctx context.Context, userID, amount int64, moduleID, description string) (int64, error) {
	rec := &UsageRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ModuleID:       moduleID,
		Action:         ActionRefund,
		TokensConsumed: -amount,
		Description:    description,
	}
	return l.db.CreditTokens(ctx, userID, amount, rec)
}

// History returns usage records newest first, bounded by limit
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := l.db.GetUsageHistory(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []UsageRecord{}
	}
	return records, nil
}
