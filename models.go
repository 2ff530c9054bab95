package match

import (
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType represents the primitive order form reaching the book.
// Stop, pegged and trailing types are resolved to market/limit by an
// upstream router before they get here.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// TimeInForce governs the disposition of any unfilled remainder.
type TimeInForce string

const (
	GTC TimeInForce = "gtc" // rest until cancelled
	DAY TimeInForce = "day" // rest; session expiry is enforced upstream
	IOC TimeInForce = "ioc" // discard any remainder immediately
	FOK TimeInForce = "fok" // all-or-nothing, zero net effect on failure
	GTD TimeInForce = "gtd" // rest; ExpireAt enforced upstream
)

// PlaceOrderCommand is the input command for placing an order.
// Orders arriving here have already passed upstream validation
// (instrument eligibility, credit, client authorization).
type PlaceOrderCommand struct {
	MarketID string          `json:"market_id"`
	ID       string          `json:"id"`
	ClientID int64           `json:"client_id"`
	Side     Side            `json:"side"`
	Type     OrderType       `json:"type"`
	TIF      TimeInForce     `json:"tif"`
	Price    decimal.Decimal `json:"price"` // limit price; must be zero for market orders
	Size     decimal.Decimal `json:"size"`
	ExpireAt int64           `json:"expire_at,omitempty"` // unix nano, GTD only
}

// Order represents the state of an order in the order book.
// This is the serializable state used for snapshots.
type Order struct {
	ID        string          `json:"id"`
	ClientID  int64           `json:"client_id"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	TIF       TimeInForce     `json:"tif"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`      // quantity at entry, immutable
	Remaining decimal.Decimal `json:"remaining"` // decreases monotonically as fills occur
	ExpireAt  int64           `json:"expire_at,omitempty"`

	// Sequence is assigned when the order enters the book and is the
	// FIFO tie-break within a price level. RestingSince records the
	// sequence at which the order last started resting (audit only).
	Sequence     uint64 `json:"sequence"`
	RestingSince uint64 `json:"resting_since,omitempty"`

	Timestamp int64 `json:"timestamp"` // Unix nano, creation time, informational

	// Intrusive linked list pointers (ignored by JSON)
	next *Order
	prev *Order
}

// restsAfterMatch reports whether the order's remainder may enter the book.
func (o *Order) restsAfterMatch() bool {
	if o.Type == Market {
		return false
	}
	switch o.TIF {
	case GTC, DAY, GTD:
		return true
	default:
		return false
	}
}

// Trade is one fill between a resting maker and an incoming taker.
// All fields are logical (sequence-derived), never wall clock, so a
// replay of the same command stream reproduces trades bit-identically.
type Trade struct {
	TradeID       uint64          `json:"trade_id"`
	MarketID      string          `json:"market_id"`
	Sequence      uint64          `json:"sequence"`    // book event sequence of the match
	ExecutedAt    uint64          `json:"executed_at"` // logical timestamp, derived from Sequence
	TakerOrderID  string          `json:"taker_order_id"`
	TakerClientID int64           `json:"taker_client_id"`
	MakerOrderID  string          `json:"maker_order_id"`
	MakerClientID int64           `json:"maker_client_id"`
	Side          Side            `json:"side"`  // taker side
	Price         decimal.Decimal `json:"price"` // always the maker's resting price
	Size          decimal.Decimal `json:"size"`
	Amount        decimal.Decimal `json:"amount"` // Price * Size
}

// MatchResult is the outcome of one matching pass, handed to the caller
// for downstream booking and event publication.
type MatchResult struct {
	Trades []*Trade `json:"trades"`

	// Resting is a copy of the incoming order as it entered the book,
	// or nil if the order did not rest.
	Resting *Order `json:"resting,omitempty"`

	// Remaining is the unfilled quantity after TIF disposition.
	Remaining decimal.Decimal `json:"remaining"`

	// AffectedMakerIDs lists makers whose state changed during the
	// pass (filled or cancelled), in the sequence they were touched.
	AffectedMakerIDs []string `json:"affected_maker_ids,omitempty"`

	// CancelledMakerIDs lists makers removed by self-trade prevention.
	CancelledMakerIDs []string `json:"cancelled_maker_ids,omitempty"`

	// RejectReason is set when the incoming order was discarded with
	// unfilled quantity (IOC remainder, FOK infeasible, invalid input).
	RejectReason RejectReason `json:"reject_reason,omitempty"`
}

type LogType string

const (
	LogTypeOpen   LogType = "open"
	LogTypeMatch  LogType = "match"
	LogTypeCancel LogType = "cancel"
	LogTypeAmend  LogType = "amend"
	LogTypeReject LogType = "reject"
)

// RejectReason represents the reason why an order was rejected.
type RejectReason string

const (
	RejectReasonNone             RejectReason = ""
	RejectReasonNoLiquidity      RejectReason = "no_liquidity"      // Market/IOC/FOK: no orders available to match
	RejectReasonPriceMismatch    RejectReason = "price_mismatch"    // IOC/FOK: price does not meet requirements
	RejectReasonInsufficientSize RejectReason = "insufficient_size" // FOK: cannot be fully filled
	RejectReasonDuplicateID      RejectReason = "duplicate_order_id"
	RejectReasonSelfTrade        RejectReason = "self_trade_prevented" // CancelIncoming/CancelBoth prevention
)

// CancelReason explains why a resting order left the book.
type CancelReason string

const (
	CancelReasonUser      CancelReason = "user_requested"
	CancelReasonSelfTrade CancelReason = "self_trade_prevented"
)

// OrderBookUpdateEvent is the wire shape for depth updates pushed to
// downstream consumers (string-encoded decimals).
type OrderBookUpdateEvent struct {
	Bids []*UpdateEvent
	Asks []*UpdateEvent
}

type UpdateEvent struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type DepthItem struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int64           `json:"count"`
}

type Depth struct {
	UpdateID uint64       `json:"update_id"`
	Asks     []*DepthItem `json:"asks"`
	Bids     []*DepthItem `json:"bids"`
}

type AmendRequest struct {
	OrderID  string
	NewPrice decimal.Decimal
	NewSize  decimal.Decimal
}

// DepthChange represents a change in the order book depth.
type DepthChange struct {
	Side     Side
	Price    decimal.Decimal
	SizeDiff decimal.Decimal
}

// CommandType represents the type of command sent to the order book.
type CommandType int

const (
	CmdPlaceOrder CommandType = iota
	CmdCancelOrder
	CmdAmendOrder
	CmdDepth
	CmdGetStats
	CmdSnapshot
)

// BookStats contains statistics about the order book queues
type BookStats struct {
	AskDepthCount int64
	AskOrderCount int64
	BidDepthCount int64
	BidOrderCount int64
}

// Command represents a unified command sent to the order book.
// It improves deterministic ordering and performance by using a single channel.
type Command struct {
	Type    CommandType
	Payload any
	Resp    chan any // Optional: for synchronous response (e.g. CmdDepth)
}
