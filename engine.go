package match

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// MatchingEngine manages multiple order books for different markets.
// Each book runs its own single-writer loop; books share no mutable
// state, so independent markets match concurrently.
type MatchingEngine struct {
	isShutdown atomic.Bool
	orderbooks sync.Map
	publishLog PublishLog
	stp        SelfTradePrevention
}

// EngineOption configures a MatchingEngine at construction time.
type EngineOption func(*MatchingEngine)

// WithEngineSelfTradePrevention sets the prevention policy applied to
// every book the engine creates.
func WithEngineSelfTradePrevention(policy SelfTradePrevention) EngineOption {
	return func(e *MatchingEngine) {
		e.stp = policy
	}
}

// NewMatchingEngine creates a new matching engine instance.
func NewMatchingEngine(publishLog PublishLog, opts ...EngineOption) *MatchingEngine {
	engine := &MatchingEngine{
		orderbooks: sync.Map{},
		publishLog: publishLog,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// CreateMarket creates and starts a new order book for the market ID.
// Creating a market that already exists is a no-op.
func (engine *MatchingEngine) CreateMarket(marketID string) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	if len(marketID) == 0 {
		return ErrInvalidParam
	}

	if _, exists := engine.orderbooks.Load(marketID); exists {
		logger.Warn("market already exists", "market_id", marketID)
		return nil
	}

	newbook := NewOrderBook(marketID, engine.publishLog, WithSelfTradePrevention(engine.stp))
	if _, loaded := engine.orderbooks.LoadOrStore(marketID, newbook); loaded {
		return nil
	}

	go func() {
		_ = newbook.Start()
	}()

	return nil
}

// PlaceOrder adds an order to the appropriate order book based on the market ID.
// Returns ErrShutdown if the engine is shutting down or ErrNotFound if market doesn't exist.
func (engine *MatchingEngine) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	orderbook := engine.OrderBook(cmd.MarketID)
	if orderbook == nil {
		return ErrNotFound
	}

	return orderbook.AddOrder(ctx, cmd)
}

// CancelOrder cancels an order in the appropriate order book.
func (engine *MatchingEngine) CancelOrder(ctx context.Context, marketID string, orderID string) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	orderbook := engine.OrderBook(marketID)
	if orderbook == nil {
		return ErrNotFound
	}

	return orderbook.CancelOrder(ctx, orderID)
}

// AmendOrder modifies an existing order in the appropriate order book.
func (engine *MatchingEngine) AmendOrder(ctx context.Context, marketID string, orderID string, newPrice decimal.Decimal, newSize decimal.Decimal) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	orderbook := engine.OrderBook(marketID)
	if orderbook == nil {
		return ErrNotFound
	}

	return orderbook.AmendOrder(ctx, orderID, newPrice, newSize)
}

// OrderBook retrieves the order book for a specific market ID.
// Returns nil if the market does not exist.
func (engine *MatchingEngine) OrderBook(marketID string) *OrderBook {
	book, found := engine.orderbooks.Load(marketID)
	if !found {
		return nil
	}

	orderbook, _ := book.(*OrderBook)
	return orderbook
}

// Shutdown gracefully shuts down all order books in the engine.
// It blocks until all order books have completed their shutdown or the context is cancelled.
// Returns nil if all order books shut down successfully, or an aggregated error otherwise.
func (engine *MatchingEngine) Shutdown(ctx context.Context) error {
	engine.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	engine.orderbooks.Range(func(key, value any) bool {
		wg.Add(1)
		go func(book *OrderBook) {
			defer wg.Done()
			if err := book.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(value.(*OrderBook))
		return true
	})

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// snapshotResult wraps a snapshot result with potential error
type snapshotResult struct {
	snap *OrderBookSnapshot
	err  error
}

// takeSnapshot orchestrates the snapshot process across all order books.
// It returns a channel that streams snapshot results (including errors).
func (e *MatchingEngine) takeSnapshot() chan snapshotResult {
	ch := make(chan snapshotResult)

	go func() {
		defer close(ch)
		var wg sync.WaitGroup

		e.orderbooks.Range(func(key, value any) bool {
			book := value.(*OrderBook)
			wg.Add(1)
			go func(b *OrderBook, marketID string) {
				defer wg.Done()
				snap, err := b.TakeSnapshot()
				if err != nil {
					ch <- snapshotResult{snap: nil, err: errors.New("snapshot failed for market " + marketID + ": " + err.Error())}
					return
				}
				if snap != nil {
					ch <- snapshotResult{snap: snap, err: nil}
				}
			}(book, key.(string))
			return true
		})

		wg.Wait()
	}()

	return ch
}

// TakeSnapshot captures a consistent snapshot of all order books and writes them to the specified directory.
// It generates two files: `snapshot.bin` (binary data) and `metadata.json` (metadata).
// Returns the metadata object or an error.
func (e *MatchingEngine) TakeSnapshot(outputDir string) (*SnapshotMetadata, error) {
	// Use a temporary directory for atomic writes
	tmpDir := outputDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	snapChan := e.takeSnapshot()

	// Track the max event sequence across all books
	var globalSeqID uint64

	binPath := filepath.Join(tmpDir, "snapshot.bin")
	binFile, err := os.Create(binPath)
	if err != nil {
		return nil, err
	}

	markets := make([]MarketSegment, 0)
	currentOffset := int64(0)
	var snapshotErrors []error

	for result := range snapChan {
		if result.err != nil {
			snapshotErrors = append(snapshotErrors, result.err)
			continue
		}

		snap := result.snap

		data, err := json.Marshal(snap)
		if err != nil {
			binFile.Close()
			return nil, err
		}

		n, err := binFile.Write(data)
		if err != nil {
			binFile.Close()
			return nil, err
		}

		length := int64(n)
		checksum := crc32.ChecksumIEEE(data)

		markets = append(markets, MarketSegment{
			MarketID: snap.MarketID,
			Offset:   currentOffset,
			Length:   length,
			Checksum: checksum,
		})

		currentOffset += length

		if snap.SeqID > globalSeqID {
			globalSeqID = snap.SeqID
		}
	}

	if len(snapshotErrors) > 0 {
		binFile.Close()
		return nil, errors.Join(snapshotErrors...)
	}

	// Write Footer
	footer := SnapshotFileFooter{Markets: markets}
	footerData, err := json.Marshal(footer)
	if err != nil {
		binFile.Close()
		return nil, err
	}

	if _, err := binFile.Write(footerData); err != nil {
		binFile.Close()
		return nil, err
	}

	// Write Footer Length (4 bytes, Big Endian)
	if len(footerData) > 4294967295 {
		binFile.Close()
		return nil, errors.New("footer too large")
	}
	//nolint:gosec // Verified length above
	footerLen := uint32(len(footerData))
	if err := binary.Write(binFile, binary.BigEndian, footerLen); err != nil {
		binFile.Close()
		return nil, err
	}

	// Sync to ensure data is flushed to disk before checksum calculation
	if err := binFile.Sync(); err != nil {
		binFile.Close()
		return nil, err
	}

	if err := binFile.Close(); err != nil {
		return nil, err
	}

	snapshotChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SnapshotID:       xid.New().String(),
		SchemaVersion:    SnapshotSchemaVersion,
		Timestamp:        time.Now().UnixNano(),
		GlobalSeqID:      globalSeqID,
		EngineVersion:    EngineVersion,
		SnapshotChecksum: snapshotChecksum,
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(tmpDir, "metadata.json")
	if err := os.WriteFile(metaPath, metaBytes, 0600); err != nil {
		return nil, err
	}

	// Atomic rename: remove old dir and rename temp to final
	if err := os.RemoveAll(outputDir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		return nil, err
	}

	return meta, nil
}

// RestoreFromSnapshot restores the entire matching engine state from a snapshot in the specified directory.
// Returns the metadata from the snapshot for event-log replay positioning.
func (e *MatchingEngine) RestoreFromSnapshot(inputDir string) (*SnapshotMetadata, error) {
	metaPath := filepath.Join(inputDir, "metadata.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, err
	}

	binPath := filepath.Join(inputDir, "snapshot.bin")
	binFile, err := os.Open(binPath)
	if err != nil {
		return nil, err
	}
	defer binFile.Close()

	// Verify full file checksum before trusting any segment
	fileChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}
	if fileChecksum != meta.SnapshotChecksum {
		return nil, errors.New("snapshot.bin checksum mismatch")
	}

	// Read Footer Length (last 4 bytes)
	footerLenBytes := make([]byte, 4)
	stat, err := binFile.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()

	if _, err := binFile.ReadAt(footerLenBytes, fileSize-4); err != nil {
		return nil, err
	}
	footerLen := binary.BigEndian.Uint32(footerLenBytes)

	// Read Footer JSON
	footerOffset := fileSize - 4 - int64(footerLen)
	footerBytes := make([]byte, footerLen)
	if _, err := binFile.ReadAt(footerBytes, footerOffset); err != nil {
		return nil, err
	}

	var footer SnapshotFileFooter
	if err := json.Unmarshal(footerBytes, &footer); err != nil {
		return nil, err
	}

	for _, segment := range footer.Markets {
		segmentData := make([]byte, segment.Length)
		if _, err := binFile.ReadAt(segmentData, segment.Offset); err != nil {
			return nil, err
		}

		if crc32.ChecksumIEEE(segmentData) != segment.Checksum {
			return nil, errors.New("checksum mismatch for market " + segment.MarketID)
		}

		var snap OrderBookSnapshot
		if err := json.Unmarshal(segmentData, &snap); err != nil {
			return nil, err
		}

		book := NewOrderBook(segment.MarketID, e.publishLog, WithSelfTradePrevention(e.stp))
		book.Restore(&snap)

		e.orderbooks.Store(segment.MarketID, book)
		go func(b *OrderBook) {
			_ = b.Start()
		}(book)
	}

	return &meta, nil
}
