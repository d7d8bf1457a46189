package orderbook

import (
	"sort"

	"github.com/ksred/galactic-exchange/internal/types"
)

// Book returns the ACTIVE v2 orders for a contract, bids and asks each
// sorted best-first. Outside the contract's trading window both sides
// are empty.
func (e *Engine) Book(contract types.ContractKey) (bids, asks []types.Order) {
	bids, asks = []types.Order{}, []types.Order{}

	now := e.nowMillis()
	open, close := ContractWindow(contract.DeliveryStart)
	if now < open || now > close {
		return bids, asks
	}

	b, ok := e.books[contract]
	if !ok {
		return bids, asks
	}
	b.bids.Reverse(func(_ int64, lvl *level) bool {
		for _, o := range lvl.queue {
			bids = append(bids, o.Order)
		}
		return true
	})
	b.asks.Scan(func(_ int64, lvl *level) bool {
		for _, o := range lvl.queue {
			asks = append(asks, o.Order)
		}
		return true
	})
	return bids, asks
}

// ActiveOrders returns the owner's ACTIVE v2 orders across all
// contracts, newest-first.
func (e *Engine) ActiveOrders(owner string) []types.Order {
	var out []*bookOrder
	for _, o := range e.orders {
		if o.Owner == owner && o.Status == types.StatusActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityTimestamp != out[j].PriorityTimestamp {
			return out[i].PriorityTimestamp > out[j].PriorityTimestamp
		}
		return out[i].seq > out[j].seq
	})

	orders := make([]types.Order, 0, len(out))
	for _, o := range out {
		orders = append(orders, o.Order)
	}
	return orders
}

// Get returns a copy of the order with the given id.
func (e *Engine) Get(orderID string) (types.Order, bool) {
	o, ok := e.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return o.Order, true
}

// OrderState is the persistence form of one engine order.
type OrderState struct {
	Order types.Order
	Seq   int64
}

// Snapshot captures the entire order set.
type Snapshot struct {
	Orders []OrderState
	Seq    int64
}

// Snapshot returns a deep copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	orders := make([]OrderState, 0, len(e.orders))
	for _, o := range e.orders {
		orders = append(orders, OrderState{Order: o.Order, Seq: o.seq})
	}
	return Snapshot{Orders: orders, Seq: e.seq}
}

// Restore replaces the full order set from a snapshot and rebuilds the
// per-contract price levels.
func (e *Engine) Restore(s Snapshot) {
	e.orders = make(map[string]*bookOrder, len(s.Orders))
	e.books = make(map[types.ContractKey]*book)
	e.seq = s.Seq

	for _, st := range s.Orders {
		o := &bookOrder{Order: st.Order, seq: st.Seq}
		e.orders[o.OrderID] = o
		if o.seq > e.seq {
			e.seq = o.seq
		}
		if o.Status == types.StatusActive && o.V2 && o.RemainingQuantity > 0 {
			e.bookFor(o.Contract).insert(o)
		}
	}
}
