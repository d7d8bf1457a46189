// Package stream pushes executed trades to websocket consumers. Each
// trade goes out as one galacticbuf v2 message per binary frame.
package stream

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ksred/galactic-exchange/internal/codec"
	"github.com/ksred/galactic-exchange/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Broadcaster maintains the set of connected stream consumers. A
// consumer that fails a write is dropped; send failures never surface
// to the originating request.
type Broadcaster struct {
	logger zerolog.Logger

	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewBroadcaster creates a broadcaster. Call Run in a goroutine before
// serving connections.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:     logger.With().Str("component", "stream").Logger(),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run owns the client set. All registration and write traffic goes
// through its channels.
func (b *Broadcaster) Run() {
	for {
		select {
		case client := <-b.register:
			b.clients[client] = true
		case client := <-b.unregister:
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				client.Close()
			}
		case message := <-b.broadcast:
			for client := range b.clients {
				if err := client.WriteMessage(websocket.BinaryMessage, message); err != nil {
					b.logger.Debug().Err(err).Msg("Dropping unwritable stream consumer")
					delete(b.clients, client)
					client.Close()
				}
			}
		}
	}
}

// BroadcastTrade encodes and pushes a v2 trade to every consumer.
// Legacy trades never reach the stream.
func (b *Broadcaster) BroadcastTrade(t types.Trade) {
	if !t.V2 {
		return
	}
	message, err := EncodeTrade(t)
	if err != nil {
		b.logger.Error().Err(err).Str("trade_id", t.TradeID).Msg("Failed to encode trade for broadcast")
		return
	}
	b.broadcast <- message
}

// EncodeTrade builds the stream message for one trade.
func EncodeTrade(t types.Trade) ([]byte, error) {
	return codec.Encode(codec.Map{
		"trade_id":       t.TradeID,
		"buyer":          t.Buyer,
		"seller":         t.Seller,
		"price":          t.Price,
		"quantity":       t.Quantity,
		"delivery_start": t.Contract.DeliveryStart,
		"delivery_end":   t.Contract.DeliveryEnd,
		"timestamp":      t.Timestamp,
	}, codec.V2)
}

// Handler upgrades the connection and keeps it registered until the
// peer goes away. Nothing is ever read from consumers.
func (b *Broadcaster) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			b.logger.Debug().Err(err).Msg("Websocket upgrade failed")
			return
		}
		b.register <- conn

		for {
			if _, _, err := conn.NextReader(); err != nil {
				b.unregister <- conn
				return
			}
		}
	}
}
