package stream

import (
	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/types"
)

// LiveSink records through the ledger and immediately broadcasts v2
// trades. This is the sink for every ordinary submission.
type LiveSink struct {
	ledger *clearing.Ledger
	hub    *Broadcaster
}

// NewLiveSink wires the ledger to the broadcaster.
func NewLiveSink(ledger *clearing.Ledger, hub *Broadcaster) *LiveSink {
	return &LiveSink{ledger: ledger, hub: hub}
}

// Record completes the trade via the ledger and pushes it to the
// stream.
func (s *LiveSink) Record(t types.Trade) types.Trade {
	t = s.ledger.Record(t)
	s.hub.BroadcastTrade(t)
	return t
}

// BufferedSink records through the ledger but holds broadcasts back.
// A committing batch flushes the buffer in production order; a rolled
// back batch drops it unsent.
type BufferedSink struct {
	ledger  *clearing.Ledger
	pending []types.Trade
}

// NewBufferedSink creates a sink buffering broadcasts for one batch.
func NewBufferedSink(ledger *clearing.Ledger) *BufferedSink {
	return &BufferedSink{ledger: ledger}
}

// Record completes the trade via the ledger and buffers the broadcast.
func (s *BufferedSink) Record(t types.Trade) types.Trade {
	t = s.ledger.Record(t)
	if t.V2 {
		s.pending = append(s.pending, t)
	}
	return t
}

// Flush broadcasts the buffered trades in the order they were
// produced.
func (s *BufferedSink) Flush(hub *Broadcaster) {
	for _, t := range s.pending {
		hub.BroadcastTrade(t)
	}
	s.pending = nil
}

// Pending returns the trades awaiting broadcast.
func (s *BufferedSink) Pending() []types.Trade {
	return s.pending
}
