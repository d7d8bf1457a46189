package database

// Row types for the snapshot store. Each table holds the latest
// snapshot of one state family; every save rewrites them wholesale.

type UserRow struct {
	Username        string `gorm:"primaryKey"`
	PasswordHash    []byte
	TokenGeneration int64
	Collateral      int64
	Unlimited       bool
}

type OrderRow struct {
	OrderID           string `gorm:"primaryKey"`
	Owner             string
	Side              string
	Price             int64
	RemainingQuantity int64
	OriginalQuantity  int64
	DeliveryStart     int64
	DeliveryEnd       int64
	Status            string
	PriorityTimestamp int64
	V2                bool
	Seq               int64
}

type LegacyOrderRow struct {
	Position      int `gorm:"primaryKey;autoIncrement:false"`
	OrderID       string
	Owner         string
	Price         int64
	Quantity      int64
	DeliveryStart int64
	DeliveryEnd   int64
	Status        string
}

type TradeRow struct {
	Position      int `gorm:"primaryKey;autoIncrement:false"`
	TradeID       string
	Buyer         string
	Seller        string
	Price         int64
	Quantity      int64
	DeliveryStart int64
	DeliveryEnd   int64
	Timestamp     int64
	V2            bool
}

type BalanceRow struct {
	Username string `gorm:"primaryKey"`
	Balance  int64
}

// MetaRow is the single bookkeeping row; its presence marks a saved
// snapshot.
type MetaRow struct {
	ID            int `gorm:"primaryKey"`
	EngineSeq     int64
	LastTimestamp int64
}
