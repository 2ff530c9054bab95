package match

import (
	"fmt"
	"sync/atomic"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// AggregatedBook maintains a simplified view of the order book,
// tracking only price levels and their aggregated sizes (depth).
// It is designed for downstream services that rebuild book state from
// the BookLog event stream: restore from a snapshot, then replay every
// log in sequence. A sequence gap means lost events and an unusable
// view, so Replay fails fast on one.
type AggregatedBook struct {
	seqID atomic.Uint64 // Last processed SequenceID for gap detection and deduplication
	ask   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bid   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewAggregatedBook creates a new AggregatedBook instance with empty ask and bid sides.
// Both sides iterate best price first.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		ask: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
		bid: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.GreaterThan(b)
		}),
	}
}

// SequenceID returns the last processed sequence ID.
// Used for synchronization and gap detection during rebuild.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID.Load()
}

// OnRebuild initializes the aggregated book from an order book snapshot,
// replacing any current state. Replay resumes from the snapshot's sequence.
func (ab *AggregatedBook) OnRebuild(snap *OrderBookSnapshot) {
	ab.ask.Clear()
	ab.bid.Clear()

	for _, o := range snap.Asks {
		ab.apply(Sell, o.Price, o.Remaining)
	}
	for _, o := range snap.Bids {
		ab.apply(Buy, o.Price, o.Remaining)
	}

	ab.seqID.Store(snap.SeqID)
}

// Replay applies a BookLog event to update the aggregated book state.
// Events with LogType == LogTypeReject do not affect book state but still advance the sequence ID.
// Already-seen events are skipped; a gap in the sequence returns an error.
func (ab *AggregatedBook) Replay(log *BookLog) error {
	last := ab.seqID.Load()

	if last != 0 && log.SequenceID <= last {
		// Duplicate delivery, already applied.
		return nil
	}
	if last != 0 && log.SequenceID != last+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, last, log.SequenceID)
	}

	change := CalculateDepthChange(log)
	if !change.SizeDiff.IsZero() {
		ab.apply(change.Side, change.Price, change.SizeDiff)
	}

	ab.seqID.Store(log.SequenceID)
	return nil
}

// apply adds diff (possibly negative) to the side's level at price,
// pruning the level when it reaches zero.
func (ab *AggregatedBook) apply(side Side, price decimal.Decimal, diff decimal.Decimal) {
	tree := ab.bid
	if side == Sell {
		tree = ab.ask
	}

	size, ok := tree.Get(price)
	if !ok {
		size = decimal.Zero
	}

	size = size.Add(diff)
	if size.IsPositive() {
		tree.Set(price, size)
	} else {
		tree.Del(price)
	}
}

// Depth returns the aggregated size at a specific price level for the given side.
// Returns zero if the price level does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) decimal.Decimal {
	tree := ab.bid
	if side == Sell {
		tree = ab.ask
	}

	size, ok := tree.Get(price)
	if !ok {
		return decimal.Zero
	}
	return size
}

// BestBid returns the highest bid level, or false if there are no bids.
func (ab *AggregatedBook) BestBid() (decimal.Decimal, bool) {
	it := ab.bid.Iterator()
	if !it.Valid() {
		return decimal.Zero, false
	}
	return it.Key(), true
}

// BestAsk returns the lowest ask level, or false if there are no asks.
func (ab *AggregatedBook) BestAsk() (decimal.Decimal, bool) {
	it := ab.ask.Iterator()
	if !it.Valid() {
		return decimal.Zero, false
	}
	return it.Key(), true
}

// TopOfBook returns up to limit levels of both sides, best price first,
// in the wire shape pushed to downstream consumers.
func (ab *AggregatedBook) TopOfBook(limit int) *OrderBookUpdateEvent {
	return &OrderBookUpdateEvent{
		Bids: ab.Top(Buy, limit),
		Asks: ab.Top(Sell, limit),
	}
}

// Top returns up to limit levels of the given side, best price first.
func (ab *AggregatedBook) Top(side Side, limit int) []*UpdateEvent {
	tree := ab.bid
	if side == Sell {
		tree = ab.ask
	}

	result := make([]*UpdateEvent, 0, limit)
	for it := tree.Iterator(); it.Valid() && len(result) < limit; it.Next() {
		result = append(result, &UpdateEvent{
			Price: it.Key().String(),
			Size:  it.Value().String(),
		})
	}
	return result
}
