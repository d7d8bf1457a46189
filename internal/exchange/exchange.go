// Package exchange is the dispatch facade over the trading core. One
// RWMutex serializes every mutation, so the matching cascade of a
// submission and the whole of a batch are single indivisible critical
// sections and observers only ever see settled state.
package exchange

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/auth"
	"github.com/ksred/galactic-exchange/internal/batch"
	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/database"
	"github.com/ksred/galactic-exchange/internal/legacy"
	"github.com/ksred/galactic-exchange/internal/orderbook"
	"github.com/ksred/galactic-exchange/internal/stream"
	"github.com/ksred/galactic-exchange/internal/types"
)

// Balance is the account view served by GET /balance.
type Balance struct {
	Realized   int64
	Potential  int64
	Collateral int64
	Unlimited  bool
}

// Exchange wires the identity service, ledger, order book, legacy list,
// batch executor and trade stream behind a single writer lock.
type Exchange struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	auth   *auth.Service
	ledger *clearing.Ledger
	engine *orderbook.Engine
	legacy *legacy.List
	batch  *batch.Executor
	hub    *stream.Broadcaster
	live   *stream.LiveSink
	store  *database.Store
}

// New assembles the exchange. A nil store disables persistence. The
// broadcaster run loop is started here.
func New(authSvc *auth.Service, store *database.Store, logger zerolog.Logger) *Exchange {
	ledger := clearing.NewLedger(logger)
	engine := orderbook.NewEngine(ledger, authSvc, logger)
	hub := stream.NewBroadcaster(logger)
	go hub.Run()

	x := &Exchange{
		logger: logger.With().Str("component", "exchange").Logger(),
		auth:   authSvc,
		ledger: ledger,
		engine: engine,
		legacy: legacy.NewList(ledger, logger),
		batch:  batch.NewExecutor(engine, ledger, authSvc, hub, logger),
		hub:    hub,
		live:   stream.NewLiveSink(ledger, hub),
		store:  store,
	}
	x.loadState()
	return x
}

// Hub exposes the trade broadcaster for the websocket route.
func (x *Exchange) Hub() *stream.Broadcaster {
	return x.hub
}

// Auth exposes the identity service for token middleware.
func (x *Exchange) Auth() *auth.Service {
	return x.auth
}

// Register creates a user.
func (x *Exchange) Register(username, password string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.auth.Register(username, password); err != nil {
		return err
	}
	x.saveState()
	return nil
}

// Login issues a bearer token. Nothing persistent changes.
func (x *Exchange) Login(username, password string) (string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.auth.Login(username, password)
}

// ChangePassword rotates the password and invalidates issued tokens.
func (x *Exchange) ChangePassword(username, oldPassword, newPassword string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.auth.ChangePassword(username, oldPassword, newPassword); err != nil {
		return err
	}
	x.saveState()
	return nil
}

// SetCollateral updates a user's collateral limit. Resting orders are
// untouched; the new limit gates subsequent admissions only.
func (x *Exchange) SetCollateral(username string, limit int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.auth.SetCollateral(username, limit); err != nil {
		return err
	}
	x.saveState()
	return nil
}

// BalanceOf returns the realized balance, potential balance and
// collateral limit for one user.
func (x *Exchange) BalanceOf(username string) Balance {
	x.mu.RLock()
	defer x.mu.RUnlock()

	limit, unlimited := x.auth.CollateralLimit(username)
	return Balance{
		Realized:   x.ledger.Balance(username),
		Potential:  x.engine.Potential(username),
		Collateral: limit,
		Unlimited:  unlimited,
	}
}

// Submit places a v2 order through the matching engine.
func (x *Exchange) Submit(owner string, side types.Side, price, quantity int64, contract types.ContractKey) (types.SubmitResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	res, err := x.engine.Submit(x.live, owner, side, price, quantity, contract)
	if err != nil {
		return types.SubmitResult{}, err
	}
	x.saveState()
	return res, nil
}

// Modify rewrites price and quantity of a resting v2 order.
func (x *Exchange) Modify(owner, orderID string, price, quantity int64) (types.SubmitResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	res, err := x.engine.Modify(x.live, owner, orderID, price, quantity)
	if err != nil {
		return types.SubmitResult{}, err
	}
	x.saveState()
	return res, nil
}

// Cancel pulls a resting v2 order.
func (x *Exchange) Cancel(owner, orderID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.engine.Cancel(owner, orderID); err != nil {
		return err
	}
	x.saveState()
	return nil
}

// ExecuteBatch runs a transactional batch. The whole batch holds the
// write lock, so a rollback is never observable.
func (x *Exchange) ExecuteBatch(contracts []batch.ContractOps) ([]batch.Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	results, err := x.batch.Execute(contracts)
	if err != nil {
		return nil, err
	}
	x.saveState()
	return results, nil
}

// Book returns the visible book for one contract.
func (x *Exchange) Book(contract types.ContractKey) (bids, asks []types.Order) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.engine.Book(contract)
}

// ActiveOrders returns the owner's resting v2 orders, newest-first.
func (x *Exchange) ActiveOrders(owner string) []types.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.engine.ActiveOrders(owner)
}

// Trades returns recorded trades newest-first. v2Only restricts to
// matching-engine trades; a non-nil contract filters by contract key.
func (x *Exchange) Trades(v2Only bool, contract *types.ContractKey) []types.Trade {
	x.mu.RLock()
	defer x.mu.RUnlock()

	all := x.ledger.All()
	out := make([]types.Trade, 0, len(all))
	for _, t := range all {
		if v2Only && !t.V2 {
			continue
		}
		if contract != nil && t.Contract != *contract {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TradesOf returns the user's v2 trades newest-first.
func (x *Exchange) TradesOf(username string, contract *types.ContractKey) []types.Trade {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]types.Trade, 0)
	for _, t := range x.ledger.All() {
		if !t.V2 || (t.Buyer != username && t.Seller != username) {
			continue
		}
		if contract != nil && t.Contract != *contract {
			continue
		}
		out = append(out, t)
	}
	return out
}

// LegacyCreate lists a v1 sell order.
func (x *Exchange) LegacyCreate(owner string, price, quantity int64, contract types.ContractKey) (legacy.Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	order, err := x.legacy.Create(owner, price, quantity, contract)
	if err != nil {
		return legacy.Order{}, err
	}
	x.saveState()
	return order, nil
}

// LegacyOpen lists the OPEN v1 orders price ascending.
func (x *Exchange) LegacyOpen(contract *types.ContractKey) []legacy.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.legacy.Open(contract)
}

// LegacyTake fills a whole v1 order for the buyer.
func (x *Exchange) LegacyTake(buyer, orderID string) (types.Trade, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	trade, err := x.legacy.Take(buyer, orderID)
	if err != nil {
		return types.Trade{}, err
	}
	x.saveState()
	return trade, nil
}

// saveState hands the current snapshot to the store. Persistence is
// best effort; a failed save is logged and the request proceeds.
// Callers hold the write lock.
func (x *Exchange) saveState() {
	if x.store == nil {
		return
	}
	state := database.State{
		Users:  x.auth.Snapshot(),
		Orders: x.engine.Snapshot(),
		Trades: x.ledger.Snapshot(),
		Legacy: x.legacy.Snapshot(),
	}
	if err := x.store.Save(state); err != nil {
		x.logger.Error().Err(err).Msg("Failed to persist state snapshot")
	}
}

// loadState restores the last snapshot on boot, if there is one.
func (x *Exchange) loadState() {
	if x.store == nil {
		return
	}
	state, ok, err := x.store.Load()
	if err != nil {
		x.logger.Error().Err(err).Msg("Failed to load persisted state, starting empty")
		return
	}
	if !ok {
		return
	}
	x.auth.Restore(state.Users)
	x.engine.Restore(state.Orders)
	x.ledger.Restore(state.Trades)
	x.legacy.Restore(state.Legacy)
	x.logger.Info().
		Int("users", len(state.Users)).
		Int("orders", len(state.Orders.Orders)).
		Int("trades", len(state.Trades.Trades)).
		Msg("Restored persisted state")
}
