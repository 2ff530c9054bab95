package match

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook holds the two sides of one instrument's book and processes
// every order-affecting event on a single goroutine (the Start loop).
// Matching correctness (price-time priority, FOK atomicity) depends on
// no interleaving of mutations mid-pass, so all state below is owned
// exclusively by that loop.
type OrderBook struct {
	marketID         string
	sequencer        *Sequencer    // sole authority for event ordering and tie-breaks
	tradeID          atomic.Uint64 // sequential trade ID counter, only incremented for Match events
	isShutdown       atomic.Bool
	stp              SelfTradePrevention
	bidQueue         *queue
	askQueue         *queue
	cmdChan          chan Command
	done             chan struct{}
	shutdownComplete chan struct{}
	publishLog       PublishLog
}

// NewOrderBook creates a new order book instance.
func NewOrderBook(marketID string, publishLog PublishLog, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		marketID:         marketID,
		sequencer:        NewSequencer(),
		bidQueue:         NewBuyerQueue(),
		askQueue:         NewSellerQueue(),
		cmdChan:          make(chan Command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publishLog:       publishLog,
	}

	for _, opt := range opts {
		opt(book)
	}

	return book
}

// BestBid returns the highest resting bid price, or false if there are no bids.
func (book *OrderBook) BestBid() (decimal.Decimal, bool) {
	return book.bidQueue.bestPrice()
}

// BestAsk returns the lowest resting ask price, or false if there are no asks.
func (book *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return book.askQueue.bestPrice()
}

// validate checks caller input before the command is sequenced.
func (cmd *PlaceOrderCommand) validate() error {
	if len(cmd.ID) == 0 || !cmd.Size.IsPositive() {
		return ErrInvalidParam
	}
	if cmd.Side != Buy && cmd.Side != Sell {
		return ErrInvalidParam
	}

	switch cmd.Type {
	case Market:
		if !cmd.Price.IsZero() {
			return ErrInvalidPrice
		}
		switch cmd.TIF {
		case GTC, DAY, GTD:
			// a market order can never rest; rejected upstream normally
			return ErrInvalidParam
		}
	case Limit:
		if !cmd.Price.IsPositive() {
			return ErrInvalidPrice
		}
	default:
		return ErrInvalidParam
	}

	return nil
}

// AddOrder submits an order to the order book asynchronously.
// Returns ErrShutdown if the order book is shutting down.
func (book *OrderBook) AddOrder(ctx context.Context, cmd *PlaceOrderCommand) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	if err := cmd.validate(); err != nil {
		return err
	}

	select {
	case book.cmdChan <- Command{Type: CmdPlaceOrder, Payload: cmd}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// PlaceOrder submits an order and waits for the result of its matching
// pass: the trades produced, the resting remainder (if any) and every
// affected maker, for downstream booking and event publication.
func (book *OrderBook) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) (*MatchResult, error) {
	if book.isShutdown.Load() {
		return nil, ErrShutdown
	}

	if err := cmd.validate(); err != nil {
		return nil, err
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdPlaceOrder, Payload: cmd, Resp: respChan}:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*MatchResult); ok {
			return result, nil
		}
		return nil, ErrInternalResponse
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// ErrInternalResponse indicates the loop answered with an unexpected payload.
var ErrInternalResponse = errors.New("unexpected response type")

// AmendOrder submits a request to modify an existing order asynchronously.
// A price change or size increase loses time priority; a pure size
// decrease is applied in place and keeps it.
func (book *OrderBook) AmendOrder(ctx context.Context, id string, newPrice decimal.Decimal, newSize decimal.Decimal) error {
	if len(id) == 0 || newSize.LessThanOrEqual(decimal.Zero) || newPrice.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidParam
	}

	select {
	case book.cmdChan <- Command{Type: CmdAmendOrder, Payload: &AmendRequest{OrderID: id, NewPrice: newPrice, NewSize: newSize}}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// CancelOrder submits a cancellation request for an order asynchronously.
func (book *OrderBook) CancelOrder(ctx context.Context, id string) error {
	if len(id) == 0 {
		return nil
	}

	select {
	case book.cmdChan <- Command{Type: CmdCancelOrder, Payload: id}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// RemoveOrder cancels an order and waits for the removed order state.
// Returns ErrOrderNotFound if no resting order has the given ID.
func (book *OrderBook) RemoveOrder(ctx context.Context, id string) (*Order, error) {
	if len(id) == 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdCancelOrder, Payload: id, Resp: respChan}:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if order, ok := res.(*Order); ok {
			return order, nil
		}
		return nil, ErrOrderNotFound
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Depth returns the current depth of the order book up to the specified limit.
func (book *OrderBook) Depth(limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdDepth, Payload: limit, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*Depth); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// GetStats returns usage statistics for the order book.
// It is thread-safe and interacts with the order book loop via a channel.
func (book *OrderBook) GetStats() (*BookStats, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdGetStats, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*BookStats); ok {
			return result, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Start starts the order book loop to process orders, cancellations, and depth requests.
// Returns nil when Shutdown() is called and all pending commands are drained.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.dispatch(cmd)
		}
	}
}

// dispatch executes one command on the loop goroutine.
func (book *OrderBook) dispatch(cmd Command) {
	switch cmd.Type {
	case CmdPlaceOrder:
		if placeCmd, ok := cmd.Payload.(*PlaceOrderCommand); ok {
			result := book.addOrder(placeCmd)
			respond(cmd.Resp, result)
		}
	case CmdAmendOrder:
		if req, ok := cmd.Payload.(*AmendRequest); ok {
			book.amendOrder(req)
		}
	case CmdCancelOrder:
		if orderID, ok := cmd.Payload.(string); ok {
			removed := book.cancelOrder(orderID, CancelReasonUser)
			if removed != nil {
				respond(cmd.Resp, removed)
			} else {
				respond(cmd.Resp, ErrOrderNotFound)
			}
		}
	case CmdDepth:
		if limit, ok := cmd.Payload.(uint32); ok {
			respond(cmd.Resp, book.depth(limit))
		}
	case CmdGetStats:
		respond(cmd.Resp, &BookStats{
			AskDepthCount: book.askQueue.depthCount(),
			AskOrderCount: book.askQueue.orderCount(),
			BidDepthCount: book.bidQueue.depthCount(),
			BidOrderCount: book.bidQueue.orderCount(),
		})
	case CmdSnapshot:
		respond(cmd.Resp, book.createSnapshot())
	}
}

// respond sends a value on an optional response channel without blocking.
func respond(ch chan any, v any) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
		// Non-blocking send, if no one is listening, just drop it
	}
}

// Shutdown signals the order book to stop accepting new orders and waits for all pending commands to be processed.
// The method blocks until the drain completes or the context is cancelled/timed out.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining state-mutating commands in the channel before returning.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			switch cmd.Type {
			case CmdPlaceOrder, CmdAmendOrder, CmdCancelOrder:
				book.dispatch(cmd)
			case CmdDepth, CmdGetStats, CmdSnapshot:
				// Read-only commands, no-op during drain
			}
		default:
			// Channel empty, shutdown complete
			return nil
		}
	}
}

// addOrder stamps the incoming command with its acceptance sequence and
// runs one matching pass. Called only from the loop goroutine.
func (book *OrderBook) addOrder(cmd *PlaceOrderCommand) *MatchResult {
	if book.bidQueue.order(cmd.ID) != nil || book.askQueue.order(cmd.ID) != nil {
		order := &Order{ID: cmd.ID, ClientID: cmd.ClientID, Side: cmd.Side, Type: cmd.Type, TIF: cmd.TIF, Price: cmd.Price}
		log := newRejectLog(book.sequencer.Next(), book.marketID, order, cmd.Size, RejectReasonDuplicateID)
		book.publish([]*BookLog{log})
		return &MatchResult{Remaining: cmd.Size, RejectReason: RejectReasonDuplicateID}
	}

	order := &Order{
		ID:        cmd.ID,
		ClientID:  cmd.ClientID,
		Side:      cmd.Side,
		Type:      cmd.Type,
		TIF:       cmd.TIF,
		Price:     cmd.Price,
		Size:      cmd.Size,
		Remaining: cmd.Size,
		ExpireAt:  cmd.ExpireAt,
		Timestamp: time.Now().UnixNano(),
	}

	if order.TIF == "" {
		if order.Type == Market {
			order.TIF = IOC
		} else {
			order.TIF = GTC
		}
	}

	var result *MatchResult
	var logs []*BookLog

	// FOK is checked before the market/limit split: a market FOK still
	// needs the all-or-nothing feasibility pass, not the walk-and-discard
	// market path.
	switch {
	case order.TIF == FOK:
		result, logs = book.handleFOKOrder(order)
	case order.Type == Market:
		result, logs = book.handleMarketOrder(order)
	case order.restsAfterMatch():
		result, logs = book.handleLimitOrder(order)
	default:
		result, logs = book.handleIOCOrder(order)
	}

	book.publish(logs)
	return result
}

// publish hands logs to the publisher and recycles them.
func (book *OrderBook) publish(logs []*BookLog) {
	if len(logs) == 0 {
		return
	}
	book.publishLog.Publish(logs...)
	for _, log := range logs {
		releaseBookLog(log)
	}
}

// amendOrder processes the modification of an order.
// Called only from the loop goroutine.
func (book *OrderBook) amendOrder(req *AmendRequest) {
	var myQueue *queue
	order := book.askQueue.order(req.OrderID)
	if order != nil {
		myQueue = book.askQueue
	} else {
		order = book.bidQueue.order(req.OrderID)
		if order != nil {
			myQueue = book.bidQueue
		}
	}

	if order == nil {
		return
	}

	oldPrice := order.Price
	oldSize := order.Remaining

	// Scenario 1: Price changed OR Size increased -> priority lost (remove and re-match)
	if !oldPrice.Equal(req.NewPrice) || req.NewSize.GreaterThan(oldSize) {
		myQueue.removeOrder(oldPrice, req.OrderID)

		order.Price = req.NewPrice
		order.Size = req.NewSize
		order.Remaining = req.NewSize
		order.RestingSince = 0

		// Publish Amend log FIRST to establish the new state. The order
		// re-enters the queue as the newest at its level.
		seq := book.sequencer.Next()
		order.Sequence = seq
		log := newAmendLog(seq, book.marketID, order, oldPrice, oldSize)
		book.publish([]*BookLog{log})

		// The new price may cross, so run a full matching pass.
		_, logs := book.handleLimitOrder(order)
		book.publish(logs)
		return
	}

	// Scenario 2: Price same AND Size decreased -> priority kept (update in-place)
	if req.NewSize.LessThan(oldSize) {
		myQueue.updateOrderRemaining(req.OrderID, req.NewSize)
	}

	log := newAmendLog(book.sequencer.Next(), book.marketID, order, oldPrice, oldSize)
	book.publish([]*BookLog{log})
}

// cancelOrder removes a resting order from whichever side holds it and
// returns it, or nil if unknown. Called only from the loop goroutine.
func (book *OrderBook) cancelOrder(id string, reason CancelReason) *Order {
	order := book.askQueue.order(id)
	if order != nil {
		book.askQueue.removeOrder(order.Price, id)
		log := newCancelLog(book.sequencer.Next(), book.marketID, order, reason)
		book.publish([]*BookLog{log})
		return order
	}

	order = book.bidQueue.order(id)
	if order != nil {
		book.bidQueue.removeOrder(order.Price, id)
		log := newCancelLog(book.sequencer.Next(), book.marketID, order, reason)
		book.publish([]*BookLog{log})
		return order
	}

	return nil
}

// depth returns the snapshot of the order book depth.
func (book *OrderBook) depth(limit uint32) *Depth {
	return &Depth{
		UpdateID: book.sequencer.Current(),
		Asks:     book.askQueue.depth(limit),
		Bids:     book.bidQueue.depth(limit),
	}
}

// createSnapshot creates a snapshot of the current order book state.
// This method is called from the order book loop (via CmdSnapshot), so
// it is consistent with respect to order processing.
func (book *OrderBook) createSnapshot() *OrderBookSnapshot {
	snap := &OrderBookSnapshot{
		MarketID: book.marketID,
		SeqID:    book.sequencer.Current(),
		TradeID:  book.tradeID.Load(),
		Bids:     make([]*Order, 0),
		Asks:     make([]*Order, 0),
	}

	bids := book.bidQueue.toSnapshot()
	for i := range bids {
		snap.Bids = append(snap.Bids, &bids[i])
	}

	asks := book.askQueue.toSnapshot()
	for i := range asks {
		snap.Asks = append(snap.Asks, &asks[i])
	}

	return snap
}

// Restore restores the order book state from a snapshot.
// It resets the current state and rebuilds the order book from the snapshot data.
func (book *OrderBook) Restore(snap *OrderBookSnapshot) {
	book.sequencer.Restore(snap.SeqID)
	book.tradeID.Store(snap.TradeID)

	book.bidQueue = NewBuyerQueue()
	book.askQueue = NewSellerQueue()

	restoreOrders := func(orders []*Order, q *queue) {
		for _, o := range orders {
			// Snapshot order preserves time priority.
			q.insertOrder(o)
		}
	}

	restoreOrders(snap.Bids, book.bidQueue)
	restoreOrders(snap.Asks, book.askQueue)
}

// TakeSnapshot captures the current state of the order book.
// It is thread-safe and interacts with the order book loop via a channel.
func (book *OrderBook) TakeSnapshot() (*OrderBookSnapshot, error) {
	respChan := make(chan any, 1)
	cmd := Command{
		Type: CmdSnapshot,
		Resp: respChan,
	}

	select {
	case book.cmdChan <- cmd:
		select {
		case res := <-respChan:
			if snap, ok := res.(*OrderBookSnapshot); ok {
				return snap, nil
			}
			return nil, ErrInternalResponse
		case <-time.After(5 * time.Second):
			return nil, ErrTimeout
		}
	case <-book.done:
		return nil, ErrOrderBookClosed
	case <-time.After(1 * time.Second):
		return nil, ErrTimeout
	}
}
