// Package trading is the HTTP boundary. Handlers decode galacticbuf
// request bodies, dispatch to the exchange facade and encode
// galacticbuf responses; status codes come from the error kind.
package trading

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/batch"
	"github.com/ksred/galactic-exchange/internal/codec"
	"github.com/ksred/galactic-exchange/internal/exchange"
	"github.com/ksred/galactic-exchange/internal/legacy"
	"github.com/ksred/galactic-exchange/internal/types"
	"github.com/ksred/galactic-exchange/pkg/middleware"
	"github.com/ksred/galactic-exchange/pkg/response"
)

// GinHandlers contains the HTTP handlers for every exchange endpoint.
type GinHandlers struct {
	exchange *exchange.Exchange
	logger   zerolog.Logger
}

// NewGinHandlers creates the handler set over the exchange facade.
func NewGinHandlers(x *exchange.Exchange, logger zerolog.Logger) *GinHandlers {
	return &GinHandlers{
		exchange: x,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes wires the full route table onto the router. Rate
// limiting is attached by the composition root, not here.
func (h *GinHandlers) RegisterRoutes(router *gin.Engine, adminToken string) {
	router.GET("/health", h.HealthHandler())
	router.POST("/register", h.RegisterHandler())
	router.POST("/login", h.LoginHandler())
	router.GET("/v2/orders", h.BookHandler())
	router.GET("/v2/trades", h.TradesHandler())
	router.POST("/v2/bulk-operations", h.BulkOperationsHandler())
	router.GET("/v2/stream/trades", h.exchange.Hub().Handler())
	router.GET("/orders", h.LegacyListHandler())
	router.GET("/trades", h.AllTradesHandler())

	admin := router.Group("/", middleware.AdminAuth(adminToken))
	admin.PUT("/collateral/:username", h.SetCollateralHandler())

	authed := router.Group("/", middleware.BearerAuth(h.exchange.Auth()))
	authed.PUT("/user/password", h.ChangePasswordHandler())
	authed.GET("/balance", h.BalanceHandler())
	authed.POST("/v2/orders", h.CreateOrderHandler())
	authed.PUT("/v2/orders/:order_id", h.ModifyOrderHandler())
	authed.DELETE("/v2/orders/:order_id", h.CancelOrderHandler())
	authed.GET("/v2/my-orders", h.MyOrdersHandler())
	authed.GET("/v2/my-trades", h.MyTradesHandler())
	authed.POST("/orders", h.LegacyCreateHandler())
	authed.POST("/trades", h.LegacyTakeHandler())
}

// decodeBody reads and decodes the request body. A malformed message is
// a 400; the caller just returns on !ok.
func (h *GinHandlers) decodeBody(c *gin.Context) (codec.Map, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return nil, false
	}
	msg, err := codec.Decode(data)
	if err != nil {
		response.BadRequest(c, "malformed message")
		return nil, false
	}
	return msg, true
}

// windowParam parses the optional ?delivery_start&delivery_end pair.
// Both present selects one contract; both absent means no filter.
func windowParam(c *gin.Context) (*types.ContractKey, bool) {
	startRaw, endRaw := c.Query("delivery_start"), c.Query("delivery_end")
	if startRaw == "" && endRaw == "" {
		return nil, true
	}
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return nil, false
	}
	end, err := strconv.ParseInt(endRaw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &types.ContractKey{DeliveryStart: start, DeliveryEnd: end}, true
}

func contractOf(m codec.Map) (types.ContractKey, bool) {
	start, okStart := m.Int("delivery_start")
	end, okEnd := m.Int("delivery_end")
	if !okStart || !okEnd {
		return types.ContractKey{}, false
	}
	return types.ContractKey{DeliveryStart: start, DeliveryEnd: end}, true
}

func encodeOrder(o types.Order) codec.Map {
	return codec.Map{
		"order_id":           o.OrderID,
		"owner":              o.Owner,
		"side":               string(o.Side),
		"price":              o.Price,
		"remaining_quantity": o.RemainingQuantity,
		"original_quantity":  o.OriginalQuantity,
		"delivery_start":     o.Contract.DeliveryStart,
		"delivery_end":       o.Contract.DeliveryEnd,
		"status":             o.Status,
		"priority_timestamp": o.PriorityTimestamp,
	}
}

func encodeOrders(orders []types.Order) []codec.Map {
	out := make([]codec.Map, len(orders))
	for i, o := range orders {
		out[i] = encodeOrder(o)
	}
	return out
}

func encodeTrade(t types.Trade) codec.Map {
	return codec.Map{
		"trade_id":       t.TradeID,
		"buyer":          t.Buyer,
		"seller":         t.Seller,
		"price":          t.Price,
		"quantity":       t.Quantity,
		"delivery_start": t.Contract.DeliveryStart,
		"delivery_end":   t.Contract.DeliveryEnd,
		"timestamp":      t.Timestamp,
	}
}

func encodeTrades(trades []types.Trade) []codec.Map {
	out := make([]codec.Map, len(trades))
	for i, t := range trades {
		out[i] = encodeTrade(t)
	}
	return out
}

// HealthHandler serves the liveness probe.
func (h *GinHandlers) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(200, "OK")
	}
}

// RegisterHandler handles POST /register.
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		username, _ := msg.String("username")
		password, _ := msg.String("password")

		if err := h.exchange.Register(username, password); err != nil {
			response.Error(c, err)
			return
		}
		response.NoContent(c)
	}
}

// LoginHandler handles POST /login.
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		username, _ := msg.String("username")
		password, _ := msg.String("password")

		token, err := h.exchange.Login(username, password)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, codec.Map{"token": token})
	}
}

// ChangePasswordHandler handles PUT /user/password. The bearer token
// identifies the user; a successful change invalidates every token
// issued before it.
func (h *GinHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		oldPassword, _ := msg.String("old_password")
		newPassword, _ := msg.String("new_password")

		if err := h.exchange.ChangePassword(c.GetString("username"), oldPassword, newPassword); err != nil {
			response.Error(c, err)
			return
		}
		response.NoContent(c)
	}
}

// SetCollateralHandler handles PUT /collateral/:username (admin only).
func (h *GinHandlers) SetCollateralHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		limit, ok := msg.Int("collateral")
		if !ok {
			response.BadRequest(c, "collateral is required")
			return
		}

		if err := h.exchange.SetCollateral(c.Param("username"), limit); err != nil {
			response.Error(c, err)
			return
		}
		response.NoContent(c)
	}
}

// BalanceHandler handles GET /balance. Unlimited collateral serializes
// as -1.
func (h *GinHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balance := h.exchange.BalanceOf(c.GetString("username"))
		collateral := balance.Collateral
		if balance.Unlimited {
			collateral = -1
		}
		response.OK(c, codec.Map{
			"balance":           balance.Realized,
			"potential_balance": balance.Potential,
			"collateral":        collateral,
		})
	}
}

// BookHandler handles GET /v2/orders for one contract.
func (h *GinHandlers) BookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := windowParam(c)
		if !ok || contract == nil {
			response.BadRequest(c, "delivery_start and delivery_end are required")
			return
		}

		bids, asks := h.exchange.Book(*contract)
		response.OK(c, codec.Map{
			"bids": encodeOrders(bids),
			"asks": encodeOrders(asks),
		})
	}
}

// CreateOrderHandler handles POST /v2/orders.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		contract, ok := contractOf(msg)
		if !ok {
			response.BadRequest(c, "delivery_start and delivery_end are required")
			return
		}
		side, _ := msg.String("side")
		price, _ := msg.Int("price")
		quantity, _ := msg.Int("quantity")

		res, err := h.exchange.Submit(c.GetString("username"), types.Side(side), price, quantity, contract)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, codec.Map{
			"order_id":        res.OrderID,
			"status":          res.Status,
			"filled_quantity": res.FilledQuantity,
		})
	}
}

// ModifyOrderHandler handles PUT /v2/orders/:order_id.
func (h *GinHandlers) ModifyOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		price, okPrice := msg.Int("price")
		quantity, okQuantity := msg.Int("quantity")
		if !okPrice || !okQuantity {
			response.BadRequest(c, "price and quantity are required")
			return
		}

		res, err := h.exchange.Modify(c.GetString("username"), c.Param("order_id"), price, quantity)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, codec.Map{
			"order_id":        res.OrderID,
			"status":          res.Status,
			"filled_quantity": res.FilledQuantity,
		})
	}
}

// CancelOrderHandler handles DELETE /v2/orders/:order_id.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.exchange.Cancel(c.GetString("username"), c.Param("order_id")); err != nil {
			response.Error(c, err)
			return
		}
		response.NoContent(c)
	}
}

// MyOrdersHandler handles GET /v2/my-orders.
func (h *GinHandlers) MyOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders := h.exchange.ActiveOrders(c.GetString("username"))
		response.OK(c, codec.Map{"orders": encodeOrders(orders)})
	}
}

// TradesHandler handles GET /v2/trades with an optional contract
// window.
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := windowParam(c)
		if !ok {
			response.BadRequest(c, "invalid delivery window")
			return
		}
		trades := h.exchange.Trades(true, contract)
		response.OK(c, codec.Map{"trades": encodeTrades(trades)})
	}
}

// MyTradesHandler handles GET /v2/my-trades: the caller's trades with
// a side and counterparty view.
func (h *GinHandlers) MyTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := windowParam(c)
		if !ok {
			response.BadRequest(c, "invalid delivery window")
			return
		}
		username := c.GetString("username")

		trades := h.exchange.TradesOf(username, contract)
		out := make([]codec.Map, len(trades))
		for i, t := range trades {
			side, counterparty := string(types.SideBuy), t.Seller
			if t.Seller == username {
				side, counterparty = string(types.SideSell), t.Buyer
			}
			out[i] = codec.Map{
				"trade_id":       t.TradeID,
				"side":           side,
				"counterparty":   counterparty,
				"price":          t.Price,
				"quantity":       t.Quantity,
				"delivery_start": t.Contract.DeliveryStart,
				"delivery_end":   t.Contract.DeliveryEnd,
				"timestamp":      t.Timestamp,
			}
		}
		response.OK(c, codec.Map{"trades": out})
	}
}

// BulkOperationsHandler handles POST /v2/bulk-operations. Tokens ride
// on the individual operations, so the route itself is unauthenticated.
func (h *GinHandlers) BulkOperationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		groups, ok := msg.Objects("contracts")
		if !ok {
			response.BadRequest(c, "contracts list is required")
			return
		}

		contracts := make([]batch.ContractOps, 0, len(groups))
		for _, group := range groups {
			contract, _ := contractOf(group)
			ops, present := group.Objects("operations")

			operations := make([]batch.Operation, 0, len(ops))
			for _, op := range ops {
				opType, _ := op.String("type")
				token, _ := op.String("token")
				side, _ := op.String("side")
				price, _ := op.Int("price")
				quantity, _ := op.Int("quantity")
				orderID, _ := op.String("order_id")
				operations = append(operations, batch.Operation{
					Type:     opType,
					Token:    token,
					Side:     types.Side(side),
					Price:    price,
					Quantity: quantity,
					OrderID:  orderID,
				})
			}
			contracts = append(contracts, batch.ContractOps{
				Contract:   contract,
				Present:    present,
				Operations: operations,
			})
		}

		results, err := h.exchange.ExecuteBatch(contracts)
		if err != nil {
			response.Error(c, err)
			return
		}

		out := make([]codec.Map, len(results))
		for i, r := range results {
			out[i] = codec.Map{
				"type":     r.Type,
				"order_id": r.OrderID,
				"status":   r.Status,
			}
		}
		response.OK(c, codec.Map{"results": out})
	}
}

func encodeLegacyOrder(o legacy.Order) codec.Map {
	return codec.Map{
		"order_id":       o.OrderID,
		"owner":          o.Owner,
		"price":          o.Price,
		"quantity":       o.Quantity,
		"delivery_start": o.Contract.DeliveryStart,
		"delivery_end":   o.Contract.DeliveryEnd,
		"status":         o.Status,
	}
}

// LegacyCreateHandler handles POST /orders: list a v1 sell order.
func (h *GinHandlers) LegacyCreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		contract, ok := contractOf(msg)
		if !ok {
			response.BadRequest(c, "delivery_start and delivery_end are required")
			return
		}
		price, _ := msg.Int("price")
		quantity, _ := msg.Int("quantity")

		order, err := h.exchange.LegacyCreate(c.GetString("username"), price, quantity, contract)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, encodeLegacyOrder(order))
	}
}

// LegacyListHandler handles GET /orders: OPEN v1 orders price
// ascending.
func (h *GinHandlers) LegacyListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := windowParam(c)
		if !ok {
			response.BadRequest(c, "invalid delivery window")
			return
		}

		orders := h.exchange.LegacyOpen(contract)
		out := make([]codec.Map, len(orders))
		for i, o := range orders {
			out[i] = encodeLegacyOrder(o)
		}
		response.OK(c, codec.Map{"orders": out})
	}
}

// LegacyTakeHandler handles POST /trades: take a whole v1 order.
func (h *GinHandlers) LegacyTakeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, ok := h.decodeBody(c)
		if !ok {
			return
		}
		orderID, ok := msg.String("order_id")
		if !ok {
			response.BadRequest(c, "order_id is required")
			return
		}

		trade, err := h.exchange.LegacyTake(c.GetString("username"), orderID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, encodeTrade(trade))
	}
}

// AllTradesHandler handles GET /trades: every recorded trade, v1 and
// v2, newest-first.
func (h *GinHandlers) AllTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := windowParam(c)
		if !ok {
			response.BadRequest(c, "invalid delivery window")
			return
		}
		trades := h.exchange.Trades(false, contract)
		response.OK(c, codec.Map{"trades": encodeTrades(trades)})
	}
}
