package chunkdb

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// prefixFilter wraps bits-and-blooms with a mutex so the store's writer
// goroutine and concurrent lookup callers can share it. A definite negative
// lets a lookup skip the disk entirely; positives still hit the
// authoritative bucket.
type prefixFilter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func newPrefixFilter(capacity uint, fpRate float64) *prefixFilter {
	return &prefixFilter{bf: bitsbloom.NewWithEstimates(capacity, fpRate)}
}

func (f *prefixFilter) add(key []byte) {
	f.mu.Lock()
	f.bf.Add(key)
	f.mu.Unlock()
}

func (f *prefixFilter) mightContain(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.Test(key)
}

// clear empties the filter. Bloom filters cannot remove single keys, so
// deletes leave stale positives behind until the next reset rebuilds it.
func (f *prefixFilter) clear() {
	f.mu.Lock()
	f.bf.ClearAll()
	f.mu.Unlock()
}
