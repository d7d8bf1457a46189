// Package database persists full-state snapshots to SQLite. The store
// is not a write-ahead log: every save rewrites the previous snapshot
// and the only promise is last-write-wins on a clean read-back.
package database

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/galactic-exchange/internal/auth"
	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/legacy"
	"github.com/ksred/galactic-exchange/internal/orderbook"
	"github.com/ksred/galactic-exchange/internal/types"
)

// State is one full snapshot of the exchange.
type State struct {
	Users  []auth.UserState
	Orders orderbook.Snapshot
	Trades clearing.Snapshot
	Legacy []legacy.Order
}

// Store wraps the GORM connection to the snapshot database.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open creates or opens exchange.db under dir and migrates the schema.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "exchange.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&UserRow{},
		&OrderRow{},
		&LegacyOrderRow{},
		&TradeRow{},
		&BalanceRow{},
		&MetaRow{},
	); err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		logger: log.With().Str("component", "database").Logger(),
	}, nil
}

// Save replaces the stored snapshot with the given state.
func (s *Store) Save(state State) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&UserRow{}, &OrderRow{}, &LegacyOrderRow{}, &TradeRow{}, &BalanceRow{}, &MetaRow{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}

		for _, u := range state.Users {
			row := UserRow{
				Username:        u.Username,
				PasswordHash:    u.PasswordHash,
				TokenGeneration: u.TokenGeneration,
				Collateral:      u.Collateral,
				Unlimited:       u.Unlimited,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, st := range state.Orders.Orders {
			o := st.Order
			row := OrderRow{
				OrderID:           o.OrderID,
				Owner:             o.Owner,
				Side:              string(o.Side),
				Price:             o.Price,
				RemainingQuantity: o.RemainingQuantity,
				OriginalQuantity:  o.OriginalQuantity,
				DeliveryStart:     o.Contract.DeliveryStart,
				DeliveryEnd:       o.Contract.DeliveryEnd,
				Status:            o.Status,
				PriorityTimestamp: o.PriorityTimestamp,
				V2:                o.V2,
				Seq:               st.Seq,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for i, o := range state.Legacy {
			row := LegacyOrderRow{
				Position:      i,
				OrderID:       o.OrderID,
				Owner:         o.Owner,
				Price:         o.Price,
				Quantity:      o.Quantity,
				DeliveryStart: o.Contract.DeliveryStart,
				DeliveryEnd:   o.Contract.DeliveryEnd,
				Status:        o.Status,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for i, t := range state.Trades.Trades {
			row := TradeRow{
				Position:      i,
				TradeID:       t.TradeID,
				Buyer:         t.Buyer,
				Seller:        t.Seller,
				Price:         t.Price,
				Quantity:      t.Quantity,
				DeliveryStart: t.Contract.DeliveryStart,
				DeliveryEnd:   t.Contract.DeliveryEnd,
				Timestamp:     t.Timestamp,
				V2:            t.V2,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for username, balance := range state.Trades.Balances {
			row := BalanceRow{Username: username, Balance: balance}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		meta := MetaRow{ID: 1, EngineSeq: state.Orders.Seq, LastTimestamp: state.Trades.LastTimestamp}
		return tx.Create(&meta).Error
	})
}

// Load reads back the stored snapshot. The second return is false when
// the database holds no snapshot yet.
func (s *Store) Load() (State, bool, error) {
	var meta MetaRow
	if err := s.db.First(&meta, 1).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return State{}, false, nil
		}
		return State{}, false, err
	}

	var state State
	state.Orders.Seq = meta.EngineSeq
	state.Trades.LastTimestamp = meta.LastTimestamp

	var users []UserRow
	if err := s.db.Find(&users).Error; err != nil {
		return State{}, false, err
	}
	for _, row := range users {
		state.Users = append(state.Users, auth.UserState{
			Username:        row.Username,
			PasswordHash:    row.PasswordHash,
			TokenGeneration: row.TokenGeneration,
			Collateral:      row.Collateral,
			Unlimited:       row.Unlimited,
		})
	}

	var orders []OrderRow
	if err := s.db.Find(&orders).Error; err != nil {
		return State{}, false, err
	}
	for _, row := range orders {
		state.Orders.Orders = append(state.Orders.Orders, orderbook.OrderState{
			Order: types.Order{
				OrderID:           row.OrderID,
				Owner:             row.Owner,
				Side:              types.Side(row.Side),
				Price:             row.Price,
				RemainingQuantity: row.RemainingQuantity,
				OriginalQuantity:  row.OriginalQuantity,
				Contract:          types.ContractKey{DeliveryStart: row.DeliveryStart, DeliveryEnd: row.DeliveryEnd},
				Status:            row.Status,
				PriorityTimestamp: row.PriorityTimestamp,
				V2:                row.V2,
			},
			Seq: row.Seq,
		})
	}

	var legacyRows []LegacyOrderRow
	if err := s.db.Order("position").Find(&legacyRows).Error; err != nil {
		return State{}, false, err
	}
	for _, row := range legacyRows {
		state.Legacy = append(state.Legacy, legacy.Order{
			OrderID:  row.OrderID,
			Owner:    row.Owner,
			Price:    row.Price,
			Quantity: row.Quantity,
			Contract: types.ContractKey{DeliveryStart: row.DeliveryStart, DeliveryEnd: row.DeliveryEnd},
			Status:   row.Status,
		})
	}

	var trades []TradeRow
	if err := s.db.Order("position").Find(&trades).Error; err != nil {
		return State{}, false, err
	}
	for _, row := range trades {
		state.Trades.Trades = append(state.Trades.Trades, types.Trade{
			TradeID:   row.TradeID,
			Buyer:     row.Buyer,
			Seller:    row.Seller,
			Price:     row.Price,
			Quantity:  row.Quantity,
			Contract:  types.ContractKey{DeliveryStart: row.DeliveryStart, DeliveryEnd: row.DeliveryEnd},
			Timestamp: row.Timestamp,
			V2:        row.V2,
		})
	}

	var balances []BalanceRow
	if err := s.db.Find(&balances).Error; err != nil {
		return State{}, false, err
	}
	state.Trades.Balances = make(map[string]int64, len(balances))
	for _, row := range balances {
		state.Trades.Balances[row.Username] = row.Balance
	}

	return state, true, nil
}
