package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BookLog represents an event in the order book.
// SequenceID is a globally increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use LogType to determine if the event affects order book state:
// - Open, Match, Cancel, Amend: affect order book state
// - Reject: does not affect order book state
type BookLog struct {
	SequenceID   uint64          `json:"seq_id"`
	TradeID      uint64          `json:"trade_id,omitempty"` // Sequential trade ID, only set for Match events
	Type         LogType         `json:"type"`               // Event type: open, match, cancel, amend, reject
	MarketID     string          `json:"market_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Amount       decimal.Decimal `json:"amount,omitempty"` // Price * Size, only set for Match events
	OldPrice     decimal.Decimal `json:"old_price,omitempty"`
	OldSize      decimal.Decimal `json:"old_size,omitempty"`
	OrderID      string          `json:"order_id"`
	ClientID     int64           `json:"client_id"`
	OrderType    OrderType       `json:"order_type,omitempty"`
	TIF          TimeInForce     `json:"tif,omitempty"`
	MakerOrderID string          `json:"maker_order_id,omitempty"`
	MakerClient  int64           `json:"maker_client_id,omitempty"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"` // Only set for Reject events
	CancelReason CancelReason    `json:"cancel_reason,omitempty"` // Only set for Cancel events
	CreatedAt    time.Time       `json:"created_at"`              // Wall clock, informational; not part of replay identity
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	// Reset structure to zero values.
	// For decimal.Decimal, the zero value (nil internal pointer) represents 0, which is valid.
	*log = BookLog{}
	bookLogPool.Put(log)
}

func newOpenLog(seqID uint64, marketID string, order *Order) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OrderID = order.ID
	log.ClientID = order.ClientID
	log.OrderType = order.Type
	log.TIF = order.TIF
	log.CreatedAt = time.Now().UTC()
	return log
}

func newMatchLog(seqID uint64, tradeID uint64, marketID string, taker *Order, maker *Order, size decimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.TradeID = tradeID
	log.Type = LogTypeMatch
	log.MarketID = marketID
	log.Side = taker.Side
	log.Price = maker.Price // price improvement always favors the resting side
	log.Size = size
	log.Amount = maker.Price.Mul(size)
	log.OrderID = taker.ID
	log.ClientID = taker.ClientID
	log.OrderType = taker.Type
	log.TIF = taker.TIF
	log.MakerOrderID = maker.ID
	log.MakerClient = maker.ClientID
	log.CreatedAt = time.Now().UTC()
	return log
}

func newCancelLog(seqID uint64, marketID string, order *Order, reason CancelReason) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OrderID = order.ID
	log.ClientID = order.ClientID
	log.OrderType = order.Type
	log.TIF = order.TIF
	log.CancelReason = reason
	log.CreatedAt = time.Now().UTC()
	return log
}

func newAmendLog(seqID uint64, marketID string, order *Order, oldPrice decimal.Decimal, oldSize decimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeAmend
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OldPrice = oldPrice
	log.OldSize = oldSize
	log.OrderID = order.ID
	log.ClientID = order.ClientID
	log.OrderType = order.Type
	log.TIF = order.TIF
	log.CreatedAt = time.Now().UTC()
	return log
}

func newRejectLog(seqID uint64, marketID string, order *Order, remaining decimal.Decimal, reason RejectReason) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.MarketID = marketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = remaining
	log.OrderID = order.ID
	log.ClientID = order.ClientID
	log.OrderType = order.Type
	log.TIF = order.TIF
	log.RejectReason = reason
	log.CreatedAt = time.Now().UTC()
	return log
}
