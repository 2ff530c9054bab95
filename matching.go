package match

import (
	"github.com/shopspring/decimal"
)

// queuesFor returns the taker's own queue and the opposing queue.
func (book *OrderBook) queuesFor(side Side) (mine, opposing *queue) {
	if side == Buy {
		return book.bidQueue, book.askQueue
	}
	return book.askQueue, book.bidQueue
}

// matchIncoming runs the core matching loop for one incoming order.
//
// Price priority: only the best opposing level is ever consulted.
// Time priority: only the head (oldest sequence) of that level is
// consumed. Price improvement: every fill is priced at the maker's
// resting price, never the taker's. When priced is false (market
// orders) there is no limit guard and the order walks the book until
// filled or liquidity is exhausted.
//
// Returns the log slice and whether self-trade prevention cancelled the
// incoming order, which ends the pass with fills already made standing.
func (book *OrderBook) matchIncoming(order *Order, targetQueue *queue, priced bool, res *MatchResult, logs []*BookLog) ([]*BookLog, bool) {
	for order.Remaining.IsPositive() {
		maker := targetQueue.peekHeadOrder()
		if maker == nil {
			break
		}

		if priced {
			if order.Side == Buy && order.Price.LessThan(maker.Price) ||
				order.Side == Sell && order.Price.GreaterThan(maker.Price) {
				break
			}
		}

		if book.stp != STPDisabled && maker.ClientID == order.ClientID {
			switch book.stp {
			case STPCancelResting:
				targetQueue.popHeadOrder()
				logs = append(logs, newCancelLog(book.sequencer.Next(), book.marketID, maker, CancelReasonSelfTrade))
				res.AffectedMakerIDs = append(res.AffectedMakerIDs, maker.ID)
				res.CancelledMakerIDs = append(res.CancelledMakerIDs, maker.ID)
				continue
			case STPCancelIncoming:
				logs = append(logs, newRejectLog(book.sequencer.Next(), book.marketID, order, order.Remaining, RejectReasonSelfTrade))
				res.RejectReason = RejectReasonSelfTrade
				return logs, true
			case STPCancelBoth:
				targetQueue.popHeadOrder()
				logs = append(logs, newCancelLog(book.sequencer.Next(), book.marketID, maker, CancelReasonSelfTrade))
				res.AffectedMakerIDs = append(res.AffectedMakerIDs, maker.ID)
				res.CancelledMakerIDs = append(res.CancelledMakerIDs, maker.ID)
				logs = append(logs, newRejectLog(book.sequencer.Next(), book.marketID, order, order.Remaining, RejectReasonSelfTrade))
				res.RejectReason = RejectReasonSelfTrade
				return logs, true
			}
		}

		fillSize := decimal.Min(order.Remaining, maker.Remaining)
		seq := book.sequencer.Next()
		tradeID := book.tradeID.Add(1)

		logs = append(logs, newMatchLog(seq, tradeID, book.marketID, order, maker, fillSize))
		res.Trades = append(res.Trades, &Trade{
			TradeID:       tradeID,
			MarketID:      book.marketID,
			Sequence:      seq,
			ExecutedAt:    seq,
			TakerOrderID:  order.ID,
			TakerClientID: order.ClientID,
			MakerOrderID:  maker.ID,
			MakerClientID: maker.ClientID,
			Side:          order.Side,
			Price:         maker.Price,
			Size:          fillSize,
			Amount:        maker.Price.Mul(fillSize),
		})
		res.AffectedMakerIDs = append(res.AffectedMakerIDs, maker.ID)

		order.Remaining = order.Remaining.Sub(fillSize)

		if maker.Remaining.Equal(fillSize) {
			// Fully consumed; a consumed maker never rests again.
			targetQueue.popHeadOrder()
		} else {
			targetQueue.updateOrderRemaining(maker.ID, maker.Remaining.Sub(fillSize))
		}
	}

	return logs, false
}

// handleLimitOrder handles limit orders whose TIF rests the remainder
// (GTC, DAY, GTD). It matches against the opposing queue and inserts
// whatever remains at the tail of its price level.
func (book *OrderBook) handleLimitOrder(order *Order) (*MatchResult, []*BookLog) {
	myQueue, targetQueue := book.queuesFor(order.Side)
	res := &MatchResult{}
	logs := make([]*BookLog, 0, 8)

	logs, halted := book.matchIncoming(order, targetQueue, true, res, logs)

	if !halted && order.Remaining.IsPositive() {
		seq := book.sequencer.Next()
		if order.Sequence == 0 {
			order.Sequence = seq
		}
		order.RestingSince = seq
		myQueue.insertOrder(order)
		logs = append(logs, newOpenLog(seq, book.marketID, order))

		resting := *order
		resting.next = nil
		resting.prev = nil
		res.Resting = &resting
	}

	res.Remaining = order.Remaining
	return res, logs
}

// handleIOCOrder handles Immediate Or Cancel orders. It matches as much
// as possible; the remainder never rests and is discarded immediately.
func (book *OrderBook) handleIOCOrder(order *Order) (*MatchResult, []*BookLog) {
	_, targetQueue := book.queuesFor(order.Side)
	res := &MatchResult{}
	logs := make([]*BookLog, 0, 8)

	logs, halted := book.matchIncoming(order, targetQueue, true, res, logs)

	if !halted && order.Remaining.IsPositive() {
		reason := RejectReasonPriceMismatch
		if targetQueue.peekHeadOrder() == nil {
			reason = RejectReasonNoLiquidity
		}
		logs = append(logs, newRejectLog(book.sequencer.Next(), book.marketID, order, order.Remaining, reason))
		res.RejectReason = reason
	}

	res.Remaining = order.Remaining
	return res, logs
}

// handleMarketOrder handles market orders. There is no price guard, so
// the order walks the book level by level until filled or liquidity is
// exhausted; any remainder is discarded like an IOC remainder.
func (book *OrderBook) handleMarketOrder(order *Order) (*MatchResult, []*BookLog) {
	_, targetQueue := book.queuesFor(order.Side)
	res := &MatchResult{}
	logs := make([]*BookLog, 0, 8)

	logs, halted := book.matchIncoming(order, targetQueue, false, res, logs)

	if !halted && order.Remaining.IsPositive() {
		logs = append(logs, newRejectLog(book.sequencer.Next(), book.marketID, order, order.Remaining, RejectReasonNoLiquidity))
		res.RejectReason = RejectReasonNoLiquidity
	}

	res.Remaining = order.Remaining
	return res, logs
}

// handleFOKOrder handles Fill Or Kill orders: all-or-nothing.
// Feasibility is simulated first against the untouched book, and the
// book is only mutated once the full fill is confirmed, so a failed FOK
// has zero net effect and no transient state is ever observable.
// A market FOK takes the same path without the price guard.
func (book *OrderBook) handleFOKOrder(order *Order) (*MatchResult, []*BookLog) {
	_, targetQueue := book.queuesFor(order.Side)
	res := &MatchResult{}
	logs := make([]*BookLog, 0, 8)

	priced := order.Type != Market

	if reason := book.fokFeasible(order, targetQueue, priced); reason != RejectReasonNone {
		logs = append(logs, newRejectLog(book.sequencer.Next(), book.marketID, order, order.Remaining, reason))
		res.RejectReason = reason
		res.Remaining = order.Remaining
		return res, logs
	}

	logs, _ = book.matchIncoming(order, targetQueue, priced, res, logs)

	if order.Remaining.IsPositive() {
		// The feasibility pass guarantees a full fill; anything else is
		// book corruption and must not reach downstream consumers.
		panic("match: fok order not fully filled after feasibility check")
	}

	res.Remaining = order.Remaining
	return res, logs
}

// fokFeasible walks the opposing levels best-first and checks whether
// the order can be completely filled at acceptable prices. With
// self-trade prevention enabled it walks individual orders, since level
// aggregates cannot see which liquidity belongs to the taker's client:
// under CancelResting same-client makers contribute nothing (they would
// be cancelled, not filled); under CancelIncoming or CancelBoth the
// matching pass would halt at the first same-client maker.
func (book *OrderBook) fokFeasible(order *Order, targetQueue *queue, priced bool) RejectReason {
	remaining := order.Remaining

	el := targetQueue.depthList.Front()
	for remaining.IsPositive() {
		if el == nil {
			return RejectReasonInsufficientSize
		}

		lvl, _ := el.Value.(*priceLevel)

		if priced {
			if order.Side == Buy && order.Price.LessThan(lvl.price) ||
				order.Side == Sell && order.Price.GreaterThan(lvl.price) {
				return RejectReasonPriceMismatch
			}
		}

		if book.stp == STPDisabled {
			remaining = remaining.Sub(lvl.totalSize)
		} else {
			for o := lvl.head; o != nil && remaining.IsPositive(); o = o.next {
				if o.ClientID == order.ClientID {
					if book.stp == STPCancelResting {
						continue
					}
					return RejectReasonSelfTrade
				}
				remaining = remaining.Sub(o.Remaining)
			}
		}

		el = el.Next()
	}

	return RejectReasonNone
}
