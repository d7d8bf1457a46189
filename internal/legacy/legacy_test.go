package legacy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/types"
)

func testContract() types.ContractKey {
	return types.ContractKey{DeliveryStart: 3_600_000, DeliveryEnd: 7_200_000}
}

func newList(t *testing.T) (*List, *clearing.Ledger) {
	t.Helper()
	ledger := clearing.NewLedger(zerolog.Nop())
	return NewList(ledger, zerolog.Nop()), ledger
}

func TestCreateAndListPriceAscending(t *testing.T) {
	list, _ := newList(t)

	_, err := list.Create("alice", 300, 10, testContract())
	require.NoError(t, err)
	_, err = list.Create("alice", 100, 5, testContract())
	require.NoError(t, err)
	_, err = list.Create("bob", 200, 7, testContract())
	require.NoError(t, err)

	open := list.Open(nil)
	require.Len(t, open, 3)
	assert.Equal(t, int64(100), open[0].Price)
	assert.Equal(t, int64(200), open[1].Price)
	assert.Equal(t, int64(300), open[2].Price)
	for _, o := range open {
		assert.Equal(t, types.StatusOpen, o.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	list, _ := newList(t)

	_, err := list.Create("alice", 100, 0, testContract())
	assert.Equal(t, types.KindInvalidInput, types.KindOf(err))

	bad := types.ContractKey{DeliveryStart: 1, DeliveryEnd: 2}
	_, err = list.Create("alice", 100, 5, bad)
	assert.Equal(t, types.KindInvalidInput, types.KindOf(err))
}

func TestOpenFiltersByContract(t *testing.T) {
	list, _ := newList(t)

	other := types.ContractKey{DeliveryStart: 7_200_000, DeliveryEnd: 10_800_000}
	_, err := list.Create("alice", 100, 5, testContract())
	require.NoError(t, err)
	_, err = list.Create("alice", 200, 5, other)
	require.NoError(t, err)

	filter := testContract()
	open := list.Open(&filter)
	require.Len(t, open, 1)
	assert.Equal(t, int64(100), open[0].Price)
}

func TestTakeFillsWholeOrder(t *testing.T) {
	list, ledger := newList(t)

	order, err := list.Create("alice", 150, 10, testContract())
	require.NoError(t, err)

	trade, err := list.Take("bob", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "bob", trade.Buyer)
	assert.Equal(t, "alice", trade.Seller)
	assert.Equal(t, int64(150), trade.Price)
	assert.Equal(t, int64(10), trade.Quantity)
	assert.False(t, trade.V2)

	// Gone from the open list, balances applied.
	assert.Empty(t, list.Open(nil))
	assert.Equal(t, int64(1500), ledger.Balance("alice"))
	assert.Equal(t, int64(-1500), ledger.Balance("bob"))

	// A filled order cannot be taken again.
	_, err = list.Take("carol", order.OrderID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestTakeRejectsOwnOrder(t *testing.T) {
	list, _ := newList(t)

	order, err := list.Create("alice", 150, 10, testContract())
	require.NoError(t, err)

	_, err = list.Take("alice", order.OrderID)
	assert.Equal(t, types.KindInvalidInput, types.KindOf(err))
	assert.Len(t, list.Open(nil), 1, "a rejected take must leave the order open")
}

func TestTakeUnknownOrder(t *testing.T) {
	list, _ := newList(t)

	_, err := list.Take("bob", "no-such-order")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestSnapshotRestore(t *testing.T) {
	list, ledger := newList(t)

	first, err := list.Create("alice", 100, 5, testContract())
	require.NoError(t, err)
	_, err = list.Create("alice", 200, 5, testContract())
	require.NoError(t, err)

	snap := list.Snapshot()
	require.Len(t, snap, 2)

	restored := NewList(ledger, zerolog.Nop())
	restored.Restore(snap)
	assert.Len(t, restored.Open(nil), 2)

	// The restored list serves takes against the snapshotted orders.
	_, err = restored.Take("bob", first.OrderID)
	require.NoError(t, err)
	assert.Len(t, restored.Open(nil), 1)
}
