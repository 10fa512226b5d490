package handoff

import (
	"sync"
	"time"
)

// deliveryIndex remembers which sessionKey+reason pairs have already been
// delivered to the human queue, so retried executions never create duplicate
// queue entries.
type deliveryIndex struct {
	mu      sync.Mutex
	entries map[string]deliveryRecord
}

type deliveryRecord struct {
	ackID       string
	deliveredAt time.Time
}

func newDeliveryIndex() *deliveryIndex {
	return &deliveryIndex{entries: make(map[string]deliveryRecord)}
}

func (ix *deliveryIndex) lookup(key string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec, ok := ix.entries[key]
	return rec.ackID, ok
}

func (ix *deliveryIndex) record(key, ackID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[key] = deliveryRecord{ackID: ackID, deliveredAt: time.Now()}
}

// purge drops records older than the retention window. Called opportunistically
// on record, which keeps the index bounded without a background goroutine.
func (ix *deliveryIndex) purge(olderThan time.Duration) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, rec := range ix.entries {
		if rec.deliveredAt.Before(cutoff) {
			delete(ix.entries, key)
			removed++
		}
	}
	return removed
}
