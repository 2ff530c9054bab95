package match

import "sync/atomic"

// Sequencer issues one monotonically increasing 64-bit number per
// accepted order-affecting event (new order, cancel, amend, trade).
// All ordering and tie-break decisions in the book are defined purely
// in terms of this sequence, never wall-clock time, so replaying the
// same sequenced events against an empty book reproduces identical
// trades and book state.
type Sequencer struct {
	seq atomic.Uint64
}

// NewSequencer creates a sequencer starting from zero.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.seq.Load()
}

// Restore sets the sequencer to resume after the given sequence number.
// Used when rebuilding a book from a snapshot.
func (s *Sequencer) Restore(seq uint64) {
	s.seq.Store(seq)
}
