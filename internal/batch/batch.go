// Package batch applies multi-contract operation lists atomically:
// either every operation takes effect or none do, and no trade leaves
// the process until the whole batch has committed.
package batch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/orderbook"
	"github.com/ksred/galactic-exchange/internal/stream"
	"github.com/ksred/galactic-exchange/internal/types"
)

// Contracts further out than this cannot be batched.
const maxLeadTime = 30 * 24 * time.Hour

// Operation types.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpCancel = "cancel"
)

// Operation is one order action. The token is resolved per operation,
// so operations in the same batch can act for different users.
type Operation struct {
	Type     string
	Token    string
	Side     types.Side
	Price    int64
	Quantity int64
	OrderID  string
}

// ContractOps groups the operations targeting one contract.
type ContractOps struct {
	Contract   types.ContractKey
	Present    bool
	Operations []Operation
}

// Result is the outcome of one applied operation, aligned with the
// input order.
type Result struct {
	Type    string
	OrderID string
	Status  string
}

// TokenResolver maps bearer tokens to usernames.
type TokenResolver interface {
	ResolveToken(token string) (username string, ok bool)
}

// Executor runs batches against the live engine and ledger under the
// caller's write lock.
type Executor struct {
	logger zerolog.Logger
	engine *orderbook.Engine
	ledger *clearing.Ledger
	tokens TokenResolver
	hub    *stream.Broadcaster

	// Now is the executor clock, overridable in tests.
	Now func() time.Time
}

// NewExecutor wires a batch executor to the trading core.
func NewExecutor(engine *orderbook.Engine, ledger *clearing.Ledger, tokens TokenResolver, hub *stream.Broadcaster, logger zerolog.Logger) *Executor {
	return &Executor{
		logger: logger.With().Str("component", "batch").Logger(),
		engine: engine,
		ledger: ledger,
		tokens: tokens,
		hub:    hub,
		Now:    time.Now,
	}
}

// Execute applies the contracts in submission order through the
// ordinary order-book entry points. The first failure rolls the book
// and the ledger back to their pre-batch snapshots and discards every
// buffered trade.
func (x *Executor) Execute(contracts []ContractOps) ([]Result, error) {
	ordersSnap := x.engine.Snapshot()
	tradesSnap := x.ledger.Snapshot()
	sink := stream.NewBufferedSink(x.ledger)

	results, err := x.run(sink, contracts)
	if err != nil {
		x.engine.Restore(ordersSnap)
		x.ledger.Restore(tradesSnap)
		x.logger.Debug().Err(err).Msg("Batch rolled back")
		return nil, err
	}

	sink.Flush(x.hub)
	return results, nil
}

func (x *Executor) run(sink orderbook.TradeSink, contracts []ContractOps) ([]Result, error) {
	results := make([]Result, 0)
	for _, group := range contracts {
		if err := x.validateContract(group); err != nil {
			return nil, err
		}
		for _, op := range group.Operations {
			result, err := x.apply(sink, group.Contract, op)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	}
	return results, nil
}

func (x *Executor) validateContract(group ContractOps) error {
	if !group.Contract.Valid() {
		return types.E(types.KindInvalidInput, "invalid contract timestamps")
	}
	now := x.Now().UnixMilli()
	if group.Contract.DeliveryEnd <= now {
		return types.E(types.KindTooLate, "contract delivery has ended")
	}
	if group.Contract.DeliveryStart > now+maxLeadTime.Milliseconds() {
		return types.E(types.KindTooEarly, "contract delivery too far out")
	}
	if !group.Present {
		return types.E(types.KindInvalidInput, "operations missing")
	}
	return nil
}

func (x *Executor) apply(sink orderbook.TradeSink, contract types.ContractKey, op Operation) (Result, error) {
	username, ok := x.tokens.ResolveToken(op.Token)
	if !ok {
		return Result{}, types.E(types.KindUnauthorized, "invalid participant token")
	}

	switch op.Type {
	case OpCreate:
		res, err := x.engine.Submit(sink, username, op.Side, op.Price, op.Quantity, contract)
		if err != nil {
			return Result{}, err
		}
		return Result{Type: OpCreate, OrderID: res.OrderID, Status: res.Status}, nil
	case OpModify:
		res, err := x.engine.Modify(sink, username, op.OrderID, op.Price, op.Quantity)
		if err != nil {
			return Result{}, err
		}
		return Result{Type: OpModify, OrderID: res.OrderID}, nil
	case OpCancel:
		if err := x.engine.Cancel(username, op.OrderID); err != nil {
			return Result{}, err
		}
		return Result{Type: OpCancel}, nil
	default:
		return Result{}, types.E(types.KindInvalidInput, "unknown operation type")
	}
}
