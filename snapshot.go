package match

import (
	"bufio"
	"hash/crc32"
	"io"
	"os"
)

// OrderBookSnapshot contains the full state of a single OrderBook.
type OrderBookSnapshot struct {
	MarketID string   `json:"market_id"`
	SeqID    uint64   `json:"seq_id"`   // Current event sequence
	TradeID  uint64   `json:"trade_id"` // Current trade ID
	Bids     []*Order `json:"bids"`     // Ordered list of bids (best price first)
	Asks     []*Order `json:"asks"`     // Ordered list of asks (best price first)
}

// SnapshotMetadata holds the global metadata for a snapshot (stored in metadata.json).
type SnapshotMetadata struct {
	SnapshotID       string `json:"snapshot_id"`       // Unique snapshot identifier
	SchemaVersion    int    `json:"schema_version"`    // Snapshot schema version
	Timestamp        int64  `json:"timestamp"`         // Unix Nano
	GlobalSeqID      uint64 `json:"global_seq_id"`     // Max event sequence across all books
	EngineVersion    string `json:"engine_version"`    // Engine version
	SnapshotChecksum uint32 `json:"snapshot_checksum"` // CRC32 of the entire snapshot.bin file
}

// SnapshotFileFooter is the footer structure stored at the end of snapshot.bin.
// Layout: [BinaryData...][FooterJSON][FooterLength(4 bytes)]
type SnapshotFileFooter struct {
	Markets []MarketSegment `json:"markets"` // Index of market data in this file
}

// MarketSegment contains metadata for a specific market's data within the snapshot binary file.
type MarketSegment struct {
	MarketID string `json:"market_id"`
	Offset   int64  `json:"offset"`   // Start offset in snapshot.bin (relative to file start)
	Length   int64  `json:"length"`   // Length in bytes
	Checksum uint32 `json:"checksum"` // CRC32 Checksum of this segment
}

// calculateFileCRC32 computes the CRC32 (IEEE) checksum of a file.
func calculateFileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, bufio.NewReader(f)); err != nil {
		return 0, err
	}

	return h.Sum32(), nil
}
