package match

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook(t *testing.T, opts ...OrderBookOption) (*OrderBook, *MemoryPublishLog) {
	t.Helper()

	publish := NewMemoryPublishLog()
	book := NewOrderBook("EUR-USD", publish, opts...)
	go func() {
		_ = book.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = book.Shutdown(ctx)
	})

	return book, publish
}

func limitCmd(id string, client int64, side Side, price string, size int64, tif TimeInForce) *PlaceOrderCommand {
	return &PlaceOrderCommand{
		MarketID: "EUR-USD",
		ID:       id,
		ClientID: client,
		Side:     side,
		Type:     Limit,
		TIF:      tif,
		Price:    decimal.RequireFromString(price),
		Size:     decimal.NewFromInt(size),
	}
}

func marketCmd(id string, client int64, side Side, size int64) *PlaceOrderCommand {
	return &PlaceOrderCommand{
		MarketID: "EUR-USD",
		ID:       id,
		ClientID: client,
		Side:     side,
		Type:     Market,
		TIF:      IOC,
		Size:     decimal.NewFromInt(size),
	}
}

func place(t *testing.T, book *OrderBook, cmd *PlaceOrderCommand) *MatchResult {
	t.Helper()
	res, err := book.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestMarketOrderWalksTheBook(t *testing.T) {
	// Resting SELL 100 @ 1.1000 (older) and SELL 50 @ 1.1000 (newer).
	// Incoming BUY MARKET 120 takes 100 from the first, 20 from the second.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 100, GTC))
	place(t, book, limitCmd("sell-2", 2, Sell, "1.1000", 50, GTC))

	res := place(t, book, marketCmd("buy-1", 3, Buy, 120))

	require.Len(t, res.Trades, 2)
	assert.Equal(t, "sell-1", res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Size.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("1.1000")))
	assert.Equal(t, "sell-2", res.Trades[1].MakerOrderID)
	assert.True(t, res.Trades[1].Size.Equal(decimal.NewFromInt(20)))
	assert.True(t, res.Remaining.IsZero())
	assert.Nil(t, res.Resting)

	// sell-2 still rests with 30
	remaining := book.askQueue.order("sell-2")
	require.NotNil(t, remaining)
	assert.True(t, remaining.Remaining.Equal(decimal.NewFromInt(30)))
}

func TestLimitOrderRestsOnEmptyBook(t *testing.T) {
	book, publish := newTestBook(t)

	res := place(t, book, limitCmd("buy-1", 1, Buy, "1.1000", 10, GTC))

	assert.Empty(t, res.Trades)
	require.NotNil(t, res.Resting)
	assert.Equal(t, "buy-1", res.Resting.ID)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(10)))

	best, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, best.Equal(decimal.RequireFromString("1.1000")))
	_, ok = book.BestAsk()
	assert.False(t, ok)

	require.Equal(t, 1, publish.Count())
	assert.Equal(t, LogTypeOpen, publish.Get(0).Type)
}

func TestFOKRejectedWhenNotFullyFillable(t *testing.T) {
	// Resting SELL 40 @ 1.1000; incoming BUY FOK 100 cannot fully fill.
	// Zero trades, resting order untouched.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))

	res := place(t, book, limitCmd("buy-1", 2, Buy, "1.1000", 100, FOK))

	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Resting)
	assert.Equal(t, RejectReasonInsufficientSize, res.RejectReason)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(100)))

	maker := book.askQueue.order("sell-1")
	require.NotNil(t, maker)
	assert.True(t, maker.Remaining.Equal(decimal.NewFromInt(40)))
}

func TestFOKFillsWhenFeasible(t *testing.T) {
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))
	place(t, book, limitCmd("sell-2", 2, Sell, "1.1010", 60, GTC))

	res := place(t, book, limitCmd("buy-1", 3, Buy, "1.1010", 100, FOK))

	require.Len(t, res.Trades, 2)
	assert.True(t, res.Remaining.IsZero())
	assert.Equal(t, RejectReasonNone, res.RejectReason)
	// Both makers fully consumed, ask side empty.
	assert.Equal(t, int64(0), book.askQueue.orderCount())
}

func TestFOKRejectedOnPriceMismatch(t *testing.T) {
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))
	place(t, book, limitCmd("sell-2", 2, Sell, "1.2000", 100, GTC))

	// Crosses the first level but not the second; cannot fully fill at 1.1000.
	res := place(t, book, limitCmd("buy-1", 3, Buy, "1.1000", 100, FOK))

	assert.Empty(t, res.Trades)
	assert.Equal(t, RejectReasonPriceMismatch, res.RejectReason)
	assert.True(t, book.askQueue.order("sell-1").Remaining.Equal(decimal.NewFromInt(40)))
}

func TestMarketFOKRejectedWhenNotFullyFillable(t *testing.T) {
	// Resting SELL 40 @ 1.1000; incoming BUY MARKET 100 with FOK must not
	// partially fill like a plain market order. Zero trades, maker untouched.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))

	cmd := marketCmd("buy-1", 2, Buy, 100)
	cmd.TIF = FOK
	res := place(t, book, cmd)

	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Resting)
	assert.Equal(t, RejectReasonInsufficientSize, res.RejectReason)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(100)))

	maker := book.askQueue.order("sell-1")
	require.NotNil(t, maker)
	assert.True(t, maker.Remaining.Equal(decimal.NewFromInt(40)))
}

func TestMarketFOKFillsAcrossLevels(t *testing.T) {
	// A market FOK has no price guard: it fills across levels as long as
	// total liquidity suffices.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))
	place(t, book, limitCmd("sell-2", 2, Sell, "1.2000", 60, GTC))

	cmd := marketCmd("buy-1", 3, Buy, 100)
	cmd.TIF = FOK
	res := place(t, book, cmd)

	require.Len(t, res.Trades, 2)
	assert.True(t, res.Remaining.IsZero())
	assert.Equal(t, RejectReasonNone, res.RejectReason)
	assert.Equal(t, int64(0), book.askQueue.orderCount())
}

func TestIOCPartialFillNeverRests(t *testing.T) {
	// Resting SELL 100 @ 1.1000; incoming BUY IOC 40 fills 40 and is done.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 100, GTC))

	res := place(t, book, limitCmd("buy-1", 2, Buy, "1.1000", 40, IOC))

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Size.Equal(decimal.NewFromInt(40)))
	assert.True(t, res.Remaining.IsZero())
	assert.Nil(t, res.Resting)

	maker := book.askQueue.order("sell-1")
	require.NotNil(t, maker)
	assert.True(t, maker.Remaining.Equal(decimal.NewFromInt(60)))
}

func TestIOCRemainderDiscarded(t *testing.T) {
	book, publish := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 40, GTC))

	res := place(t, book, limitCmd("buy-1", 2, Buy, "1.1000", 100, IOC))

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(60)))
	assert.Nil(t, res.Resting)
	assert.Equal(t, RejectReasonNoLiquidity, res.RejectReason)

	// The remainder appears in no price level.
	assert.Equal(t, int64(0), book.bidQueue.orderCount())

	last := publish.Get(publish.Count() - 1)
	assert.Equal(t, LogTypeReject, last.Type)
	assert.True(t, last.Size.Equal(decimal.NewFromInt(60)))
}

func TestPricePriority(t *testing.T) {
	// Bids at distinct prices: an incoming sell matches the highest bid
	// first, regardless of submission order.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("buy-low", 1, Buy, "1.0990", 10, GTC))
	place(t, book, limitCmd("buy-high", 2, Buy, "1.1010", 10, GTC))
	place(t, book, limitCmd("buy-mid", 3, Buy, "1.1000", 10, GTC))

	res := place(t, book, limitCmd("sell-1", 4, Sell, "1.0990", 25, GTC))

	require.Len(t, res.Trades, 3)
	assert.Equal(t, "buy-high", res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("1.1010")))
	assert.Equal(t, "buy-mid", res.Trades[1].MakerOrderID)
	assert.Equal(t, "buy-low", res.Trades[2].MakerOrderID)
	assert.True(t, res.Trades[2].Size.Equal(decimal.NewFromInt(5)))
}

func TestTimePriority(t *testing.T) {
	// Same price level: the order accepted earlier fills first.
	book, _ := newTestBook(t)

	place(t, book, limitCmd("first", 1, Sell, "1.1000", 10, GTC))
	place(t, book, limitCmd("second", 2, Sell, "1.1000", 10, GTC))

	res := place(t, book, marketCmd("buy-1", 3, Buy, 10))

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "first", res.Trades[0].MakerOrderID)
	assert.NotNil(t, book.askQueue.order("second"))
}

func TestMakerPriceImprovement(t *testing.T) {
	// Every trade is priced at the maker's resting price, never the taker's.
	t.Run("buy taker", func(t *testing.T) {
		book, _ := newTestBook(t)
		place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 10, GTC))

		res := place(t, book, limitCmd("buy-1", 2, Buy, "1.2000", 10, GTC))
		require.Len(t, res.Trades, 1)
		assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("1.1000")))
	})

	t.Run("sell taker", func(t *testing.T) {
		book, _ := newTestBook(t)
		place(t, book, limitCmd("buy-1", 1, Buy, "1.1000", 10, GTC))

		res := place(t, book, limitCmd("sell-1", 2, Sell, "1.0000", 10, GTC))
		require.Len(t, res.Trades, 1)
		assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("1.1000")))
	})
}

func TestQuantityConservation(t *testing.T) {
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 30, GTC))
	place(t, book, limitCmd("sell-2", 2, Sell, "1.1010", 30, GTC))
	place(t, book, limitCmd("sell-3", 3, Sell, "1.1020", 30, GTC))

	res := place(t, book, limitCmd("buy-1", 4, Buy, "1.1015", 100, GTC))

	total := decimal.Zero
	for _, trade := range res.Trades {
		total = total.Add(trade.Size)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(60)))
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(40)))
	assert.True(t, total.Add(res.Remaining).Equal(decimal.NewFromInt(100)))

	// The crossing remainder rests at its own limit price.
	require.NotNil(t, res.Resting)
	best, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, best.Equal(decimal.RequireFromString("1.1015")))

	// After the pass the book is never crossed.
	bestAsk, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, best.LessThan(bestAsk))
}

func TestCrossingLimitFullyFilledDoesNotRest(t *testing.T) {
	book, _ := newTestBook(t)

	place(t, book, limitCmd("sell-1", 1, Sell, "1.1000", 100, GTC))

	res := place(t, book, limitCmd("buy-1", 2, Buy, "1.1000", 100, GTC))

	require.Len(t, res.Trades, 1)
	assert.Nil(t, res.Resting)
	assert.Equal(t, int64(0), book.bidQueue.orderCount())
	assert.Equal(t, int64(0), book.askQueue.orderCount())
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	book, publish := newTestBook(t)

	res := place(t, book, marketCmd("buy-1", 1, Buy, 10))

	assert.Empty(t, res.Trades)
	assert.Equal(t, RejectReasonNoLiquidity, res.RejectReason)
	assert.Equal(t, 1, publish.Count())
	assert.Equal(t, LogTypeReject, publish.Get(0).Type)
}

func TestDuplicateOrderIDRejected(t *testing.T) {
	book, _ := newTestBook(t)

	place(t, book, limitCmd("buy-1", 1, Buy, "1.1000", 10, GTC))
	res := place(t, book, limitCmd("buy-1", 1, Buy, "1.1000", 10, GTC))

	assert.Equal(t, RejectReasonDuplicateID, res.RejectReason)
	assert.Equal(t, int64(1), book.bidQueue.orderCount())
}

func TestValidateRejectsBadInput(t *testing.T) {
	book, _ := newTestBook(t)
	ctx := context.Background()

	// Market order with a price populated
	_, err := book.PlaceOrder(ctx, &PlaceOrderCommand{
		ID: "m1", ClientID: 1, Side: Buy, Type: Market, TIF: IOC,
		Price: decimal.NewFromInt(10), Size: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	// Limit order without a price
	_, err = book.PlaceOrder(ctx, &PlaceOrderCommand{
		ID: "l1", ClientID: 1, Side: Buy, Type: Limit, TIF: GTC,
		Size: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	// Market order with a resting TIF
	_, err = book.PlaceOrder(ctx, &PlaceOrderCommand{
		ID: "m2", ClientID: 1, Side: Buy, Type: Market, TIF: GTC,
		Size: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrInvalidParam)

	// Zero size
	_, err = book.PlaceOrder(ctx, &PlaceOrderCommand{
		ID: "l2", ClientID: 1, Side: Buy, Type: Limit, TIF: GTC,
		Price: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestGTDRestsLikeGTC(t *testing.T) {
	book, _ := newTestBook(t)

	cmd := limitCmd("buy-1", 1, Buy, "1.1000", 10, GTD)
	cmd.ExpireAt = time.Now().Add(time.Hour).UnixNano()
	res := place(t, book, cmd)

	require.NotNil(t, res.Resting)
	assert.Equal(t, GTD, res.Resting.TIF)
	assert.NotNil(t, book.bidQueue.order("buy-1"))
}
