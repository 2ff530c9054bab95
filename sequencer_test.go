package match

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerNext(t *testing.T) {
	var s Sequencer

	assert.Equal(t, uint64(0), s.Current())
	assert.Equal(t, uint64(1), s.Next())
	assert.Equal(t, uint64(2), s.Next())
	assert.Equal(t, uint64(2), s.Current())
}

func TestSequencerRestore(t *testing.T) {
	var s Sequencer

	s.Restore(42)
	assert.Equal(t, uint64(42), s.Current())
	assert.Equal(t, uint64(43), s.Next())
}

func TestSequencerConcurrentNextIsUnique(t *testing.T) {
	var s Sequencer
	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	seen := make([]uint64, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seen[w*perWorker+i] = s.Next()
			}
		}(w)
	}
	wg.Wait()

	unique := make(map[uint64]struct{}, len(seen))
	for _, v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, workers*perWorker)
	assert.Equal(t, uint64(workers*perWorker), s.Current())
}
