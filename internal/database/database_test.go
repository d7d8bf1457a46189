package database

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/galactic-exchange/internal/auth"
	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/legacy"
	"github.com/ksred/galactic-exchange/internal/orderbook"
	"github.com/ksred/galactic-exchange/internal/types"
)

func testState() State {
	contract := types.ContractKey{DeliveryStart: 3_600_000, DeliveryEnd: 7_200_000}
	return State{
		Users: []auth.UserState{
			{Username: "alice", PasswordHash: []byte("hash-a"), TokenGeneration: 2, Collateral: 500, Unlimited: false},
			{Username: "bob", PasswordHash: []byte("hash-b"), Unlimited: true},
		},
		Orders: orderbook.Snapshot{
			Seq: 7,
			Orders: []orderbook.OrderState{{
				Order: types.Order{
					OrderID:           "o1",
					Owner:             "alice",
					Side:              types.SideSell,
					Price:             150,
					RemainingQuantity: 40,
					OriginalQuantity:  100,
					Contract:          contract,
					Status:            types.StatusActive,
					PriorityTimestamp: 99,
					V2:                true,
				},
				Seq: 3,
			}},
		},
		Trades: clearing.Snapshot{
			Trades: []types.Trade{
				{TradeID: "t1", Buyer: "bob", Seller: "alice", Price: 150, Quantity: 60, Contract: contract, Timestamp: 100, V2: true},
				{TradeID: "t2", Buyer: "alice", Seller: "bob", Price: 10, Quantity: 1, Contract: contract, Timestamp: 101, V2: false},
			},
			Balances:      map[string]int64{"alice": 8990, "bob": -8990},
			LastTimestamp: 101,
		},
		Legacy: []legacy.Order{
			{OrderID: "l1", Owner: "alice", Price: 90, Quantity: 5, Contract: contract, Status: types.StatusOpen},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Save(testState()))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testState(), loaded)
}

func TestLoadEmptyDatabase(t *testing.T) {
	store, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	store, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Save(testState()))

	smaller := testState()
	smaller.Users = smaller.Users[:1]
	smaller.Trades.Trades = smaller.Trades.Trades[:1]
	smaller.Trades.Balances = map[string]int64{"alice": 9000}
	smaller.Legacy = nil
	require.NoError(t, store.Save(smaller))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, smaller, loaded)
}
