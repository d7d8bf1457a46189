// Package legacy keeps the v1 sell-only order list alive. It shares
// nothing with the matching engine: orders here never match, never
// count toward exposure, and their trades never reach the stream.
package legacy

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/types"
)

// Order is a v1 listing. Only OPEN orders are visible; a take fills
// the whole order in one step.
type Order struct {
	OrderID  string
	Owner    string
	Price    int64
	Quantity int64
	Contract types.ContractKey
	Status   string
}

// List holds the v1 orders. Callers serialize access through the
// exchange dispatcher.
type List struct {
	logger zerolog.Logger
	ledger *clearing.Ledger
	orders []*Order
	seq    map[string]int
}

// NewList creates an empty v1 order list recording takes through the
// given ledger.
func NewList(ledger *clearing.Ledger, logger zerolog.Logger) *List {
	return &List{
		logger: logger.With().Str("component", "legacy").Logger(),
		ledger: ledger,
		seq:    make(map[string]int),
	}
}

// Create lists a sell order. v1 has no buy side.
func (l *List) Create(owner string, price, quantity int64, contract types.ContractKey) (Order, error) {
	if quantity < 1 {
		return Order{}, types.E(types.KindInvalidInput, "quantity must be at least 1")
	}
	if !contract.Valid() {
		return Order{}, types.E(types.KindInvalidInput, "invalid contract timestamps")
	}

	order := &Order{
		OrderID:  uuid.NewString(),
		Owner:    owner,
		Price:    price,
		Quantity: quantity,
		Contract: contract,
		Status:   types.StatusOpen,
	}
	l.seq[order.OrderID] = len(l.orders)
	l.orders = append(l.orders, order)

	l.logger.Debug().
		Str("order_id", order.OrderID).
		Str("owner", owner).
		Int64("price", price).
		Int64("quantity", quantity).
		Msg("Legacy order listed")
	return *order, nil
}

// Open returns the OPEN orders price ascending, creation order within
// a price. A non-nil filter restricts the listing to one contract.
func (l *List) Open(filter *types.ContractKey) []Order {
	open := make([]Order, 0)
	for _, o := range l.orders {
		if o.Status != types.StatusOpen {
			continue
		}
		if filter != nil && o.Contract != *filter {
			continue
		}
		open = append(open, *o)
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Price < open[j].Price
	})
	return open
}

// Take fills the whole order for the buyer and records the trade as a
// v1 trade through the ledger. Balances apply; the stream never sees
// it.
func (l *List) Take(buyer, orderID string) (types.Trade, error) {
	idx, ok := l.seq[orderID]
	if !ok || l.orders[idx].Status != types.StatusOpen {
		return types.Trade{}, types.E(types.KindNotFound, "order not found")
	}
	order := l.orders[idx]
	if order.Owner == buyer {
		return types.Trade{}, types.E(types.KindInvalidInput, "cannot take own order")
	}

	order.Status = types.StatusFilled
	trade := l.ledger.Record(types.Trade{
		Buyer:    buyer,
		Seller:   order.Owner,
		Price:    order.Price,
		Quantity: order.Quantity,
		Contract: order.Contract,
		V2:       false,
	})

	l.logger.Debug().
		Str("order_id", orderID).
		Str("trade_id", trade.TradeID).
		Str("buyer", buyer).
		Str("seller", order.Owner).
		Msg("Legacy order taken")
	return trade, nil
}

// Snapshot captures the full list for persistence.
func (l *List) Snapshot() []Order {
	out := make([]Order, len(l.orders))
	for i, o := range l.orders {
		out[i] = *o
	}
	return out
}

// Restore replaces the list with a snapshot.
func (l *List) Restore(orders []Order) {
	l.orders = make([]*Order, len(orders))
	l.seq = make(map[string]int, len(orders))
	for i := range orders {
		o := orders[i]
		l.orders[i] = &o
		l.seq[o.OrderID] = i
	}
}
