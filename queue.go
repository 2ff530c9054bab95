package match

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceLevel is one price level: an intrusive doubly-linked FIFO of
// resting orders sharing the same price. head is the oldest order.
// totalSize is the sum of the remaining quantity of every order in the
// level, maintained on every insert/remove/amend.
type priceLevel struct {
	price     decimal.Decimal
	totalSize decimal.Decimal
	head      *Order
	tail      *Order
	count     int64
}

// queue holds one side of the order book: price levels in a skiplist
// (best price at the front) plus an id index for O(1) unlink once the
// level is located. An emptied level is removed immediately, so the
// front of the skiplist is always a non-empty best level.
type queue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	orders      map[string]*Order
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The levels are sorted by price in descending order (highest price first).
func NewBuyerQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
		orders: make(map[string]*Order),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The levels are sorted by price in ascending order (lowest price first).
func NewSellerQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
		orders: make(map[string]*Order),
	}
}

// order finds an order by its ID.
func (q *queue) order(id string) *Order {
	return q.orders[id]
}

// level finds the price level for the given price, or nil.
func (q *queue) level(price decimal.Decimal) *priceLevel {
	el := q.depthList.Get(price)
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl
}

// insertOrder inserts an order at the tail of its price level's FIFO,
// creating the level if absent. A partially filled maker is never
// popped and re-inserted; it keeps its slot, so tail insertion is the
// only entry path.
func (q *queue) insertOrder(order *Order) {
	el := q.depthList.Get(order.Price)
	if el != nil {
		lvl, _ := el.Value.(*priceLevel)
		order.prev = lvl.tail
		order.next = nil
		if lvl.tail != nil {
			lvl.tail.next = order
		}
		lvl.tail = order
		if lvl.head == nil {
			lvl.head = order
		}

		lvl.totalSize = lvl.totalSize.Add(order.Remaining)
		lvl.count++
		q.orders[order.ID] = order
		q.totalOrders++
	} else {
		lvl := &priceLevel{
			price:     order.Price,
			head:      order,
			tail:      order,
			totalSize: order.Remaining,
			count:     1,
		}
		order.next = nil
		order.prev = nil

		q.orders[order.ID] = order
		q.depthList.Set(order.Price, lvl)

		q.totalOrders++
		q.depths++
	}
}

// removeOrder removes an order from the queue by price and ID and
// returns it, or nil if unknown. An emptied level is pruned immediately.
func (q *queue) removeOrder(price decimal.Decimal, id string) *Order {
	el := q.depthList.Get(price)
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*priceLevel)

	order, ok := q.orders[id]
	if !ok {
		return nil
	}

	// Unlink from the level FIFO
	if order.prev != nil {
		order.prev.next = order.next
	} else {
		lvl.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		lvl.tail = order.prev
	}

	// Clear pointers to avoid leaks
	order.next = nil
	order.prev = nil

	lvl.totalSize = lvl.totalSize.Sub(order.Remaining)
	lvl.count--
	delete(q.orders, id)
	q.totalOrders--

	if lvl.count == 0 {
		q.depthList.RemoveElement(el)
		q.depths--
	}

	return order
}

// updateOrderRemaining decreases the remaining size of an order
// in place, preserving its position in the level FIFO.
func (q *queue) updateOrderRemaining(id string, newRemaining decimal.Decimal) {
	order, ok := q.orders[id]
	if !ok {
		return
	}

	lvl := q.level(order.Price)
	if lvl != nil {
		diff := order.Remaining.Sub(newRemaining)
		lvl.totalSize = lvl.totalSize.Sub(diff)
		order.Remaining = newRemaining
	}
}

// bestPrice returns the price of the best level, or false if the side is empty.
func (q *queue) bestPrice() (decimal.Decimal, bool) {
	el := q.depthList.Front()
	if el == nil {
		return decimal.Zero, false
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl.price, true
}

// peekHeadOrder returns the oldest order of the best level without removing it.
func (q *queue) peekHeadOrder() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	lvl, _ := el.Value.(*priceLevel)
	if lvl.head == nil || lvl.count == 0 {
		// An empty level must have been pruned on removal.
		panic("match: empty price level left in depth list")
	}
	return lvl.head
}

// popHeadOrder removes and returns the oldest order of the best level.
func (q *queue) popHeadOrder() *Order {
	ord := q.peekHeadOrder()

	if ord != nil {
		q.removeOrder(ord.Price, ord.ID)
	}

	return ord
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// toSnapshot serializes the queue into a slice of Order structs.
// It iterates through the skip list (price levels) and then the linked
// list (orders) to preserve priority.
func (q *queue) toSnapshot() []Order {
	snapshots := make([]Order, 0, q.totalOrders)

	elem := q.depthList.Front()
	for elem != nil {
		lvl := elem.Value.(*priceLevel)

		order := lvl.head
		for order != nil {
			snapshots = append(snapshots, Order{
				ID:           order.ID,
				ClientID:     order.ClientID,
				Side:         order.Side,
				Type:         order.Type,
				TIF:          order.TIF,
				Price:        order.Price,
				Size:         order.Size,
				Remaining:    order.Remaining,
				ExpireAt:     order.ExpireAt,
				Sequence:     order.Sequence,
				RestingSince: order.RestingSince,
				Timestamp:    order.Timestamp,
			})
			order = order.next
		}

		elem = elem.Next()
	}

	return snapshots
}

// depth returns the order book depth up to the specified limit.
func (q *queue) depth(limit uint32) []*DepthItem {
	result := make([]*DepthItem, 0, limit)

	el := q.depthList.Front()

	var i uint32 = 0
	for i < limit && el != nil {
		lvl, _ := el.Value.(*priceLevel)
		d := DepthItem{
			Price: lvl.price,
			Size:  lvl.totalSize,
			Count: lvl.count,
		}

		result = append(result, &d)

		el = el.Next()
		i++
	}

	return result
}
