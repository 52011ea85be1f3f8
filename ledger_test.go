package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *MemDB) {
	t.Helper()
	db := NewMemoryDB()
	return NewLedger(db, DefaultCatalog()), db
}

func TestCheckAndConsumeDebitsAndRecords(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 15, ActionPurchase, "starter pack")
	require.NoError(t, err)

	result := ledger.CheckAndConsume(ctx, 1, "site-audit", "", "")
	require.True(t, result.Success)
	require.Equal(t, int64(10), result.TokensConsumed)
	require.Equal(t, int64(5), result.TokensRemaining)

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)

	history, err := ledger.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// newest first: the debit precedes the purchase credit
	require.Equal(t, ActionModuleAccess, history[0].Action)
	require.Equal(t, "site-audit", history[0].ModuleID)
	require.Equal(t, int64(10), history[0].TokensConsumed)
	require.Equal(t, ActionPurchase, history[1].Action)
}

func TestCheckAndConsumeInsufficient(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 15, ActionPurchase, "")
	require.NoError(t, err)

	first := ledger.CheckAndConsume(ctx, 1, "site-audit", "", "")
	require.True(t, first.Success)
	require.Equal(t, int64(5), first.TokensRemaining)

	second := ledger.CheckAndConsume(ctx, 1, "site-audit", "", "")
	require.False(t, second.Success)
	require.Equal(t, ReasonInsufficientTokens, second.Reason)
	require.Equal(t, int64(5), second.TokensRemaining)

	// failed attempt leaves no record
	history, err := ledger.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestConsumeWithZeroBalance(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	// balance reads as zero for a user with no ledger row
	balance, err := ledger.Balance(ctx, 99)
	require.NoError(t, err)
	require.Zero(t, balance)

	result := ledger.CheckAndConsume(ctx, 99, "site-audit", "", "")
	require.False(t, result.Success)
	require.Equal(t, ReasonInsufficientTokens, result.Reason)
	require.Zero(t, result.TokensRemaining)
}

func TestConsumeUnknownModule(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 100, ActionPurchase, "")
	require.NoError(t, err)

	result := ledger.CheckAndConsume(ctx, 1, "nonexistent-module", "", "")
	require.False(t, result.Success)
	require.Equal(t, ReasonUnknownModule, result.Reason)

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	history, err := ledger.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1) // only the purchase
}

func TestBalanceReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 42, ActionPurchase, "")
	require.NoError(t, err)

	a, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	b, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 1000, ActionPurchase, "")
	require.NoError(t, err)

	modules := []string{"site-audit", "keyword-planner", "rank-tracker", "ai-writer"}
	for _, id := range modules {
		result := ledger.CheckAndConsume(ctx, 1, id, "", "")
		require.True(t, result.Success)
	}

	history, err := ledger.History(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "ai-writer", history[0].ModuleID)
	require.Equal(t, "rank-tracker", history[1].ModuleID)
	require.Equal(t, "keyword-planner", history[2].ModuleID)

	// each record carries the cost configured at consumption time
	require.Equal(t, int64(100), history[0].TokensConsumed)
	require.Equal(t, int64(10), history[1].TokensConsumed)
}

func TestHistoryEmptyForUnknownUser(t *testing.T) {
	ledger, _ := newTestLedger(t)
	history, err := ledger.History(context.Background(), 404, 10)
	require.NoError(t, err)
	require.NotNil(t, history)
	require.Empty(t, history)
}

func TestNoDoubleSpendUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	// enough for exactly one debit
	_, err := ledger.Credit(ctx, 1, 10, ActionPurchase, "")
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	results := make([]ConsumeResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// alternate modules with the same cost, like two tabs racing
			module := "site-audit"
			if i%2 == 1 {
				module = "keyword-planner"
			}
			results[i] = ledger.CheckAndConsume(ctx, 1, module, "", "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			require.Equal(t, ReasonInsufficientTokens, r.Reason)
		}
	}
	require.Equal(t, 1, successes)

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 105, ActionPurchase, "")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		ledger.CheckAndConsume(ctx, 1, "ai-writer", "", "")
		ledger.CheckAndConsume(ctx, 1, "site-audit", "", "")

		balance, err := ledger.Balance(ctx, 1)
		require.NoError(t, err)
		require.GreaterOrEqual(t, balance, int64(0))
	}
}

func TestRefundRestoresBalance(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Credit(ctx, 1, 10, ActionPurchase, "")
	require.NoError(t, err)

	result := ledger.CheckAndConsume(ctx, 1, "site-audit", "", "")
	require.True(t, result.Success)

	balance, err := ledger.Refund(ctx, 1, result.TokensConsumed, "site-audit", "grant issuance failed")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	history, err := ledger.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, ActionRefund, history[0].Action)
	require.Equal(t, "site-audit", history[0].ModuleID)
	require.Equal(t, int64(-10), history[0].TokensConsumed)
}
