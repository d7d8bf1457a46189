package exchange

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/galactic-exchange/internal/auth"
	"github.com/ksred/galactic-exchange/internal/batch"
	"github.com/ksred/galactic-exchange/internal/database"
	"github.com/ksred/galactic-exchange/internal/types"
)

func tradableContract() types.ContractKey {
	start := time.Now().Add(48 * time.Hour).UnixMilli()
	start -= start % types.HourMillis
	return types.ContractKey{DeliveryStart: start, DeliveryEnd: start + types.HourMillis}
}

func newExchange(t *testing.T, store *database.Store) *Exchange {
	t.Helper()
	authSvc := auth.NewService("test-secret", zerolog.Nop())
	return New(authSvc, store, zerolog.Nop())
}

func registerPair(t *testing.T, x *Exchange) {
	t.Helper()
	require.NoError(t, x.Register("alice", "pw-a"))
	require.NoError(t, x.Register("bob", "pw-b"))
}

func TestSubmitMatchAndBalances(t *testing.T) {
	x := newExchange(t, nil)
	registerPair(t, x)
	contract := tradableContract()

	res, err := x.Submit("alice", types.SideSell, 150, 100, contract)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, res.Status)

	res, err = x.Submit("bob", types.SideBuy, 160, 100, contract)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, res.Status)
	assert.Equal(t, int64(100), res.FilledQuantity)

	// Maker price applies.
	trades := x.Trades(true, nil)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(150), trades[0].Price)

	assert.Equal(t, int64(15_000), x.BalanceOf("alice").Realized)
	assert.Equal(t, int64(-15_000), x.BalanceOf("bob").Realized)
}

func TestBalanceIncludesExposure(t *testing.T) {
	x := newExchange(t, nil)
	registerPair(t, x)

	_, err := x.Submit("alice", types.SideBuy, 100, 10, tradableContract())
	require.NoError(t, err)

	b := x.BalanceOf("alice")
	assert.Equal(t, int64(0), b.Realized)
	assert.Equal(t, int64(-1000), b.Potential)
	assert.True(t, b.Unlimited)
}

func TestTradesOfFiltersCounterparties(t *testing.T) {
	x := newExchange(t, nil)
	registerPair(t, x)
	require.NoError(t, x.Register("carol", "pw-c"))
	contract := tradableContract()

	_, err := x.Submit("alice", types.SideSell, 150, 10, contract)
	require.NoError(t, err)
	_, err = x.Submit("bob", types.SideBuy, 150, 10, contract)
	require.NoError(t, err)

	assert.Len(t, x.TradesOf("alice", nil), 1)
	assert.Len(t, x.TradesOf("bob", nil), 1)
	assert.Empty(t, x.TradesOf("carol", nil))
}

func TestLegacyTradesStayOutOfV2Queries(t *testing.T) {
	x := newExchange(t, nil)
	registerPair(t, x)
	contract := tradableContract()

	order, err := x.LegacyCreate("alice", 90, 5, contract)
	require.NoError(t, err)
	_, err = x.LegacyTake("bob", order.OrderID)
	require.NoError(t, err)

	assert.Empty(t, x.Trades(true, nil), "v1 trades are not v2 trades")
	assert.Len(t, x.Trades(false, nil), 1)

	// Balances still apply.
	assert.Equal(t, int64(450), x.BalanceOf("alice").Realized)
}

func TestBatchThroughFacade(t *testing.T) {
	x := newExchange(t, nil)
	registerPair(t, x)
	contract := tradableContract()

	tokenA, err := x.Login("alice", "pw-a")
	require.NoError(t, err)
	tokenB, err := x.Login("bob", "pw-b")
	require.NoError(t, err)

	results, err := x.ExecuteBatch([]batch.ContractOps{{
		Contract: contract,
		Present:  true,
		Operations: []batch.Operation{
			{Type: batch.OpCreate, Token: tokenA, Side: types.SideSell, Price: 150, Quantity: 100},
			{Type: batch.OpCreate, Token: tokenB, Side: types.SideBuy, Price: 150, Quantity: 40},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	_, asks := x.Book(contract)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(60), asks[0].RemainingQuantity)
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := database.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	x := newExchange(t, store)
	registerPair(t, x)
	contract := tradableContract()

	_, err = x.Submit("alice", types.SideSell, 150, 100, contract)
	require.NoError(t, err)
	_, err = x.Submit("bob", types.SideBuy, 150, 30, contract)
	require.NoError(t, err)

	reopened, err := database.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	restarted := newExchange(t, reopened)

	// Users, the resting residual and the trade all came back.
	token, err := restarted.Login("alice", "pw-a")
	require.NoError(t, err)
	username, ok := restarted.Auth().ResolveToken(token)
	require.True(t, ok)
	assert.Equal(t, "alice", username)

	_, asks := restarted.Book(contract)
	require.Len(t, asks, 1)
	assert.Equal(t, int64(70), asks[0].RemainingQuantity)

	trades := restarted.Trades(true, nil)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(4500), restarted.BalanceOf("alice").Realized)
}
