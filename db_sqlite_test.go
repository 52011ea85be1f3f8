package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSQLiteDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "tokengate_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.close() })
	return db
}

func TestSQLiteUserAndRefreshTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)

	u, err := db.CreateUser(ctx, "a@example.com", "hash", "user")
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	got, err := db.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "user", got.Role)

	byID, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, "a@example.com", byID.Email)

	// duplicate email rejected
	_, err = db.CreateUser(ctx, "a@example.com", "hash", "user")
	require.Error(t, err)

	require.NoError(t, db.CreateRefreshToken(ctx, "rt-1", u.ID, 9999999999))
	rt, err := db.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, rt)
	require.False(t, rt.Revoked)

	require.NoError(t, db.RevokeAllRefreshTokensForUser(ctx, u.ID))
	rt, err = db.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	require.True(t, rt.Revoked)
}

func TestSQLiteLedgerFlow(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)
	ledger := NewLedger(db, DefaultCatalog())

	u, err := db.CreateUser(ctx, "b@example.com", "hash", "user")
	require.NoError(t, err)

	// no balance row yet: reads as zero
	balance, err := ledger.Balance(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, balance)

	_, err = ledger.Credit(ctx, u.ID, 15, ActionPurchase, "starter pack")
	require.NoError(t, err)

	result := ledger.CheckAndConsume(ctx, u.ID, "site-audit", "", "launch")
	require.True(t, result.Success)
	require.Equal(t, int64(10), result.TokensConsumed)
	require.Equal(t, int64(5), result.TokensRemaining)

	second := ledger.CheckAndConsume(ctx, u.ID, "site-audit", "", "")
	require.False(t, second.Success)
	require.Equal(t, ReasonInsufficientTokens, second.Reason)
	require.Equal(t, int64(5), second.TokensRemaining)

	history, err := ledger.History(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "site-audit", history[0].ModuleID)
	require.Equal(t, int64(10), history[0].TokensConsumed)
	require.Equal(t, ActionPurchase, history[1].Action)
	require.False(t, history[0].CreatedAt.IsZero())
}

func TestSQLiteDebitMissingBalanceRow(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)

	rec := &UsageRecord{ID: "rec-1", UserID: 123, ModuleID: "site-audit", Action: ActionModuleAccess, TokensConsumed: 10}
	balance, err := db.DebitTokens(ctx, 123, 10, rec)
	require.ErrorIs(t, err, ErrInsufficientTokens)
	require.Zero(t, balance)

	history, err := db.GetUsageHistory(ctx, 123, 10)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSQLiteRefundAfterDebit(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)
	ledger := NewLedger(db, DefaultCatalog())

	u, err := db.CreateUser(ctx, "c@example.com", "hash", "user")
	require.NoError(t, err)

	_, err = ledger.Credit(ctx, u.ID, 100, ActionPurchase, "")
	require.NoError(t, err)

	result := ledger.CheckAndConsume(ctx, u.ID, "ai-writer", "", "")
	require.True(t, result.Success)
	require.Zero(t, result.TokensRemaining)

	balance, err := ledger.Refund(ctx, u.ID, result.TokensConsumed, "ai-writer", "grant issuance failed")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}
