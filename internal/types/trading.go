package types

// Side identifies which half of the book an order sits on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the two accepted values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order status values. OPEN belongs to the legacy v1 sell list only.
const (
	StatusActive    = "ACTIVE"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
	StatusOpen      = "OPEN"
)

// HourMillis is the length of a delivery window.
const HourMillis int64 = 3_600_000

// ContractKey identifies a one-hour delivery contract. Matching never
// crosses contract keys.
type ContractKey struct {
	DeliveryStart int64 `json:"delivery_start"`
	DeliveryEnd   int64 `json:"delivery_end"`
}

// Valid reports whether both endpoints are hour-aligned and exactly one
// delivery window apart.
func (k ContractKey) Valid() bool {
	return k.DeliveryStart%HourMillis == 0 &&
		k.DeliveryEnd%HourMillis == 0 &&
		k.DeliveryEnd-k.DeliveryStart == HourMillis
}

// Order is a resting or historical order. The order book owns all Order
// records; everything handed out across the package boundary is a copy.
type Order struct {
	OrderID           string      `json:"order_id"`
	Owner             string      `json:"owner"`
	Side              Side        `json:"side"`
	Price             int64       `json:"price"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	OriginalQuantity  int64       `json:"original_quantity"`
	Contract          ContractKey `json:"contract"`
	Status            string      `json:"status"`
	PriorityTimestamp int64       `json:"priority_timestamp"`
	V2                bool        `json:"v2"`
}

// Terminal reports whether the order has reached a final status.
func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// Trade is one executed match. The trade ledger owns all Trade records.
type Trade struct {
	TradeID   string      `json:"trade_id"`
	Buyer     string      `json:"buyer"`
	Seller    string      `json:"seller"`
	Price     int64       `json:"price"`
	Quantity  int64       `json:"quantity"`
	Contract  ContractKey `json:"contract"`
	Timestamp int64       `json:"timestamp"`
	V2        bool        `json:"v2"`
}

// SubmitResult is the observable outcome of a submission or modification.
type SubmitResult struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	FilledQuantity int64  `json:"filled_quantity"`
}
