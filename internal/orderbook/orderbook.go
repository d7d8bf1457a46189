// Package orderbook implements the continuous limit order book and the
// matching engine for v2 orders. One book per contract; matching never
// crosses contract keys.
package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/btree"

	"github.com/ksred/galactic-exchange/internal/types"
)

// TradeSink receives every trade the engine produces. The live sink
// records through the ledger and broadcasts; the buffered sink records
// and holds broadcasts back until a batch commits.
type TradeSink interface {
	Record(t types.Trade) types.Trade
}

// BalanceSource supplies realized balances for the exposure admission.
type BalanceSource interface {
	Balance(user string) int64
}

// CollateralSource supplies per-user collateral limits.
type CollateralSource interface {
	CollateralLimit(username string) (limit int64, unlimited bool)
}

// ContractWindow returns the interval during which a contract accepts
// orders: opens 15 days before the delivery day's midnight UTC, closes
// one minute before delivery starts.
func ContractWindow(deliveryStart int64) (open, close int64) {
	start := time.UnixMilli(deliveryStart).UTC()
	year, month, day := start.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -15).UnixMilli(), deliveryStart - 60_000
}

type bookOrder struct {
	types.Order
	seq int64
}

// level is one price level, FIFO-ordered by priority timestamp.
type level struct {
	price int64
	queue []*bookOrder
}

type book struct {
	bids *btree.Map[int64, *level]
	asks *btree.Map[int64, *level]
}

func newBook() *book {
	return &book{
		bids: btree.NewMap[int64, *level](32),
		asks: btree.NewMap[int64, *level](32),
	}
}

func (b *book) side(s types.Side) *btree.Map[int64, *level] {
	if s == types.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *book) insert(o *bookOrder) {
	tree := b.side(o.Side)
	lvl, ok := tree.Get(o.Price)
	if !ok {
		lvl = &level{price: o.Price}
		tree.Set(o.Price, lvl)
	}
	// Keep the queue ordered by priority timestamp, arrival breaking ties.
	pos := len(lvl.queue)
	for i, q := range lvl.queue {
		if o.PriorityTimestamp < q.PriorityTimestamp ||
			(o.PriorityTimestamp == q.PriorityTimestamp && o.seq < q.seq) {
			pos = i
			break
		}
	}
	lvl.queue = append(lvl.queue, nil)
	copy(lvl.queue[pos+1:], lvl.queue[pos:])
	lvl.queue[pos] = o
}

func (b *book) remove(o *bookOrder) {
	tree := b.side(o.Side)
	lvl, ok := tree.Get(o.Price)
	if !ok {
		return
	}
	for i, q := range lvl.queue {
		if q.OrderID == o.OrderID {
			lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
			break
		}
	}
	if len(lvl.queue) == 0 {
		tree.Delete(o.Price)
	}
}

// crossing returns the resting orders an incoming order would trade
// against, in consumption order: opposite side, price crossed, best
// price first, oldest first within a level.
func (b *book) crossing(side types.Side, price int64) []*bookOrder {
	var out []*bookOrder
	if side == types.SideBuy {
		b.asks.Scan(func(p int64, lvl *level) bool {
			if p > price {
				return false
			}
			out = append(out, lvl.queue...)
			return true
		})
	} else {
		b.bids.Reverse(func(p int64, lvl *level) bool {
			if p < price {
				return false
			}
			out = append(out, lvl.queue...)
			return true
		})
	}
	return out
}

// Engine is the matching engine. It is not safe for concurrent use;
// the exchange facade serializes access.
type Engine struct {
	logger     zerolog.Logger
	balances   BalanceSource
	collateral CollateralSource

	// Now is the engine clock, overridable in tests.
	Now func() time.Time

	books  map[types.ContractKey]*book
	orders map[string]*bookOrder
	seq    int64
}

// NewEngine creates an empty engine backed by the given balance and
// collateral sources.
func NewEngine(balances BalanceSource, collateral CollateralSource, logger zerolog.Logger) *Engine {
	return &Engine{
		logger:     logger.With().Str("component", "orderbook").Logger(),
		balances:   balances,
		collateral: collateral,
		Now:        time.Now,
		books:      make(map[types.ContractKey]*book),
		orders:     make(map[string]*bookOrder),
	}
}

func (e *Engine) nowMillis() int64 {
	return e.Now().UnixMilli()
}

func (e *Engine) bookFor(c types.ContractKey) *book {
	b, ok := e.books[c]
	if !ok {
		b = newBook()
		e.books[c] = b
	}
	return b
}

// Submit runs the full admission path for a new v2 order: validation,
// trading window, exposure admission, self-match probe, execution and
// residual insertion.
func (e *Engine) Submit(sink TradeSink, owner string, side types.Side, price, quantity int64, contract types.ContractKey) (types.SubmitResult, error) {
	if !side.Valid() {
		return types.SubmitResult{}, types.E(types.KindInvalidInput, "side must be buy or sell")
	}
	if quantity < 1 {
		return types.SubmitResult{}, types.E(types.KindInvalidInput, "quantity must be positive")
	}
	if !contract.Valid() {
		return types.SubmitResult{}, types.E(types.KindInvalidInput, "invalid contract timestamps")
	}

	now := e.nowMillis()
	open, close := ContractWindow(contract.DeliveryStart)
	if now < open {
		return types.SubmitResult{}, types.E(types.KindTooEarly, "contract not open for trading yet")
	}
	if now > close {
		return types.SubmitResult{}, types.E(types.KindTooLate, "contract closed for trading")
	}

	if err := e.admit(owner, exposure(side, price, quantity), ""); err != nil {
		return types.SubmitResult{}, err
	}

	candidates := e.bookFor(contract).crossing(side, price)
	if err := e.selfMatchProbe(owner, quantity, candidates); err != nil {
		return types.SubmitResult{}, err
	}

	incoming := &bookOrder{
		Order: types.Order{
			OrderID:           uuid.New().String(),
			Owner:             owner,
			Side:              side,
			Price:             price,
			RemainingQuantity: quantity,
			OriginalQuantity:  quantity,
			Contract:          contract,
			Status:            types.StatusActive,
			PriorityTimestamp: now,
			V2:                true,
		},
		seq: e.nextSeq(),
	}

	filled := e.execute(sink, incoming, candidates)

	if incoming.RemainingQuantity > 0 {
		e.bookFor(contract).insert(incoming)
	} else {
		incoming.Status = types.StatusFilled
	}
	e.orders[incoming.OrderID] = incoming

	return types.SubmitResult{
		OrderID:        incoming.OrderID,
		Status:         resultStatus(incoming, filled),
		FilledQuantity: filled,
	}, nil
}

// Modify changes the price and quantity of a resting order in place
// and re-runs execution against the post-modification book.
func (e *Engine) Modify(sink TradeSink, owner, orderID string, price, quantity int64) (types.SubmitResult, error) {
	order, ok := e.orders[orderID]
	if !ok || order.Terminal() || !order.V2 {
		return types.SubmitResult{}, types.E(types.KindNotFound, "order not found")
	}
	if order.Owner != owner {
		return types.SubmitResult{}, types.E(types.KindForbidden, "order belongs to another user")
	}
	if quantity < 1 {
		return types.SubmitResult{}, types.E(types.KindInvalidInput, "quantity must be positive")
	}

	if err := e.admit(owner, exposure(order.Side, price, quantity), orderID); err != nil {
		return types.SubmitResult{}, err
	}

	candidates := e.bookFor(order.Contract).crossing(order.Side, price)
	candidates = excludeOrder(candidates, orderID)
	if err := e.selfMatchProbe(owner, quantity, candidates); err != nil {
		return types.SubmitResult{}, err
	}

	resetPriority := price != order.Price || quantity > order.RemainingQuantity

	book := e.bookFor(order.Contract)
	book.remove(order)

	order.Price = price
	order.RemainingQuantity = quantity
	if quantity > order.OriginalQuantity {
		order.OriginalQuantity = quantity
	}
	if resetPriority {
		order.PriorityTimestamp = e.nowMillis()
		order.seq = e.nextSeq()
	}

	filled := e.execute(sink, order, candidates)

	if order.RemainingQuantity > 0 {
		book.insert(order)
	} else {
		order.Status = types.StatusFilled
	}

	return types.SubmitResult{
		OrderID:        orderID,
		Status:         resultStatus(order, filled),
		FilledQuantity: filled,
	}, nil
}

// Cancel transitions an ACTIVE order to CANCELLED and removes it from
// the book.
func (e *Engine) Cancel(owner, orderID string) error {
	order, ok := e.orders[orderID]
	if !ok || order.Terminal() || !order.V2 {
		return types.E(types.KindNotFound, "order not found")
	}
	if order.Owner != owner {
		return types.E(types.KindForbidden, "order belongs to another user")
	}

	e.bookFor(order.Contract).remove(order)
	order.Status = types.StatusCancelled
	order.RemainingQuantity = 0
	return nil
}

// execute trades the incoming order against the candidate list,
// maker price, until the incoming quantity is exhausted or the
// candidates run out. Returns the filled quantity.
func (e *Engine) execute(sink TradeSink, incoming *bookOrder, candidates []*bookOrder) int64 {
	var filled int64
	for _, resting := range candidates {
		if incoming.RemainingQuantity <= 0 {
			break
		}
		if resting.RemainingQuantity <= 0 {
			continue
		}

		qty := incoming.RemainingQuantity
		if resting.RemainingQuantity < qty {
			qty = resting.RemainingQuantity
		}

		buyer, seller := incoming.Owner, resting.Owner
		if incoming.Side == types.SideSell {
			buyer, seller = resting.Owner, incoming.Owner
		}

		sink.Record(types.Trade{
			Buyer:    buyer,
			Seller:   seller,
			Price:    resting.Price,
			Quantity: qty,
			Contract: incoming.Contract,
			V2:       true,
		})

		incoming.RemainingQuantity -= qty
		resting.RemainingQuantity -= qty
		filled += qty

		if resting.RemainingQuantity <= 0 {
			resting.Status = types.StatusFilled
			e.bookFor(resting.Contract).remove(resting)
		}
	}
	return filled
}

// selfMatchProbe walks the candidates in consumption order with a
// simulated remaining quantity. An owner-owned resting order that
// would be consumed rejects the submission; orders belonging to others
// consumed before the simulated quantity runs out do not count.
func (e *Engine) selfMatchProbe(owner string, quantity int64, candidates []*bookOrder) error {
	remaining := quantity
	for _, resting := range candidates {
		if remaining <= 0 {
			break
		}
		if resting.Owner == owner {
			return types.E(types.KindSelfMatch, "order would match against own resting order")
		}
		consumed := remaining
		if resting.RemainingQuantity < consumed {
			consumed = resting.RemainingQuantity
		}
		remaining -= consumed
	}
	return nil
}

// admit checks the exposure admission rule: the owner's potential
// balance, with the hypothetical order counted at full quantity, must
// stay within the collateral limit. excludeID replaces an existing
// order during a modification.
func (e *Engine) admit(owner string, hypothetical int64, excludeID string) error {
	limit, unlimited := e.collateral.CollateralLimit(owner)
	if unlimited {
		return nil
	}

	potential := e.potential(owner, excludeID)
	potential = e.satAdd(potential, hypothetical, owner)
	if potential < -limit {
		return types.E(types.KindInsufficientCollateral, "insufficient collateral")
	}
	return nil
}

// Potential returns the owner's potential balance: realized cash plus
// the signed exposure of every resting v2 order.
func (e *Engine) Potential(owner string) int64 {
	return e.potential(owner, "")
}

// potential sums the owner's realized balance and the signed exposure
// of every ACTIVE v2 order, skipping excludeID.
func (e *Engine) potential(owner, excludeID string) int64 {
	total := e.balances.Balance(owner)
	for _, o := range e.orders {
		if o.Owner != owner || o.Status != types.StatusActive || o.OrderID == excludeID {
			continue
		}
		total = e.satAdd(total, exposure(o.Side, o.Price, o.RemainingQuantity), owner)
	}
	return total
}

func (e *Engine) satAdd(a, b int64, owner string) int64 {
	sum, overflow := types.SatAdd(a, b)
	if overflow {
		e.logger.Warn().Str("owner", owner).Msg("Potential balance overflows int64, saturating")
	}
	return sum
}

// exposure is the signed full-fill value of an order: a sell receives
// price per unit, a buy pays it.
func exposure(side types.Side, price, quantity int64) int64 {
	value, overflow := types.SatMul(price, quantity)
	if overflow {
		value = clampProduct(price, quantity)
	}
	if side == types.SideBuy {
		if value == -1<<63 {
			return 1<<63 - 1
		}
		return -value
	}
	return value
}

func clampProduct(price, quantity int64) int64 {
	if (price > 0) == (quantity > 0) {
		return 1<<63 - 1
	}
	return -1 << 63
}

func resultStatus(o *bookOrder, filled int64) string {
	if filled > 0 {
		return types.StatusFilled
	}
	return o.Status
}

func excludeOrder(candidates []*bookOrder, orderID string) []*bookOrder {
	out := candidates[:0]
	for _, c := range candidates {
		if c.OrderID != orderID {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) nextSeq() int64 {
	e.seq++
	return e.seq
}
