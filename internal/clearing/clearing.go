// Package clearing keeps the append-only trade log and the realized
// balances it implies. The ledger is total: it validates nothing and
// never rejects a trade.
package clearing

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/types"
)

// Ledger owns every Trade record. It is not safe for concurrent use;
// the exchange facade serializes access.
type Ledger struct {
	logger zerolog.Logger

	trades        []types.Trade
	balances      map[string]int64
	lastTimestamp int64
}

// NewLedger creates an empty trade ledger.
func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		logger:   logger.With().Str("component", "clearing").Logger(),
		balances: make(map[string]int64),
	}
}

// Record completes and appends a trade: assigns an id when absent,
// stamps a monotone non-decreasing timestamp when absent, and applies
// the realized deltas (buyer pays, seller receives). Returns the
// completed trade.
func (l *Ledger) Record(t types.Trade) types.Trade {
	if t.TradeID == "" {
		t.TradeID = uuid.New().String()
	}
	if t.Timestamp == 0 {
		ts := time.Now().UnixMilli()
		if ts < l.lastTimestamp {
			ts = l.lastTimestamp
		}
		t.Timestamp = ts
	}
	if t.Timestamp > l.lastTimestamp {
		l.lastTimestamp = t.Timestamp
	}

	value, overflow := types.SatMul(t.Price, t.Quantity)
	// The buyer's side is its own product so it saturates toward its own
	// bound rather than negating an already saturated value.
	debit, _ := types.SatMul(t.Price, -t.Quantity)
	if overflow {
		l.logger.Warn().
			Str("trade_id", t.TradeID).
			Int64("price", t.Price).
			Int64("quantity", t.Quantity).
			Msg("Trade value overflows int64, saturating")
	}
	l.applyDelta(t.Seller, value)
	l.applyDelta(t.Buyer, debit)

	l.trades = append(l.trades, t)
	return t
}

func (l *Ledger) applyDelta(user string, delta int64) {
	next, overflow := types.SatAdd(l.balances[user], delta)
	if overflow {
		l.logger.Warn().
			Str("user", user).
			Int64("delta", delta).
			Msg("Balance overflows int64, saturating")
	}
	l.balances[user] = next
}

// All returns every trade newest-first.
func (l *Ledger) All() []types.Trade {
	out := make([]types.Trade, 0, len(l.trades))
	for i := len(l.trades) - 1; i >= 0; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// Balance returns the user's realized balance.
func (l *Ledger) Balance(user string) int64 {
	return l.balances[user]
}

// Snapshot captures the full ledger state.
type Snapshot struct {
	Trades        []types.Trade
	Balances      map[string]int64
	LastTimestamp int64
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	trades := make([]types.Trade, len(l.trades))
	copy(trades, l.trades)
	balances := make(map[string]int64, len(l.balances))
	for user, bal := range l.balances {
		balances[user] = bal
	}
	return Snapshot{Trades: trades, Balances: balances, LastTimestamp: l.lastTimestamp}
}

// Restore replaces the log and the balances from a snapshot. Balances
// come straight from the snapshot, never recomputed from the log.
func (l *Ledger) Restore(s Snapshot) {
	l.trades = make([]types.Trade, len(s.Trades))
	copy(l.trades, s.Trades)
	l.balances = make(map[string]int64, len(s.Balances))
	for user, bal := range s.Balances {
		l.balances[user] = bal
	}
	l.lastTimestamp = s.LastTimestamp
}
