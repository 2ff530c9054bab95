package match

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

func BenchmarkPlaceRestingOrders(b *testing.B) {
	ctx := context.Background()
	engine := NewMatchingEngine(NewDiscardPublishLog())

	marketID := "BTC-USDT"
	_ = engine.CreateMarket(marketID)

	// Fixed seed for repeatability
	rng := rand.New(rand.NewSource(42))

	// Pre-compute decimal prices to reduce allocations in the hot loop
	priceCache := make([]decimal.Decimal, 1000)
	for i := range priceCache {
		priceCache[i] = decimal.NewFromInt(int64(9500 + i))
	}
	sizeOne := decimal.NewFromInt(1)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cmd := &PlaceOrderCommand{
			MarketID: marketID,
			ID:       xid.New().String(),
			ClientID: int64(i % 64),
			Side:     Buy,
			Type:     Limit,
			TIF:      GTC,
			Price:    priceCache[rng.Intn(len(priceCache))],
			Size:     sizeOne,
		}
		_ = engine.PlaceOrder(ctx, cmd)
	}

	b.StopTimer()

	bid := engine.OrderBook(marketID).bidQueue
	b.Logf("order count: %d", bid.orderCount())
	b.Logf("depth count: %d", bid.depthCount())
}

func BenchmarkMatchOrders(b *testing.B) {
	ctx := context.Background()
	engine := NewMatchingEngine(NewDiscardPublishLog())

	marketID := "BTC-USDT"
	_ = engine.CreateMarket(marketID)

	price := decimal.NewFromInt(10000)
	size := decimal.NewFromInt(1)

	// Unique command slots so the async loop never reads a slot being rewritten.
	// The pool must exceed the book's channel capacity.
	const poolSize = 65536
	cmds := make([]PlaceOrderCommand, poolSize)
	for i := 0; i < poolSize; i += 2 {
		cmds[i] = PlaceOrderCommand{
			MarketID: marketID,
			ID:       "sell-" + strconv.Itoa(i),
			ClientID: 1,
			Side:     Sell,
			Type:     Limit,
			TIF:      GTC,
			Price:    price,
			Size:     size,
		}
		cmds[i+1] = PlaceOrderCommand{
			MarketID: marketID,
			ID:       "buy-" + strconv.Itoa(i+1),
			ClientID: 2,
			Side:     Buy,
			Type:     Limit,
			TIF:      GTC,
			Price:    price,
			Size:     size,
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		idx := (i * 2) % poolSize

		// Resting sell, then a buy that consumes it
		_ = engine.PlaceOrder(ctx, &cmds[idx])
		_ = engine.PlaceOrder(ctx, &cmds[idx+1])
	}

	b.StopTimer()

	totalSeconds := b.Elapsed().Seconds()
	if totalSeconds > 0 {
		ops := float64(b.N) * 2
		b.ReportMetric(ops/totalSeconds, "orders/sec")
	}
}
