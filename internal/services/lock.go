package services

import (
	"sync"
	"time"
)

// lockWaitDelay is how long the webhook path waits when the fulfillment lock
// is already held before rechecking completion. The gateway retries on its
// own schedule, so one short wait is enough.
const lockWaitDelay = 250 * time.Millisecond

// fulfillmentLocks is a process-local lock set keyed by (invoice, package).
// It only guards against duplicate work within one instance; a multi-instance
// deployment would need a conditional row update with the same key instead.
type fulfillmentLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newFulfillmentLocks() *fulfillmentLocks {
	return &fulfillmentLocks{held: make(map[string]struct{})}
}

func lockKey(invoiceID, packageRef string) string {
	return invoiceID + ":" + packageRef
}

// TryAcquire claims the key. It never blocks; the caller decides whether to
// wait or bail when the claim fails.
func (l *fulfillmentLocks) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *fulfillmentLocks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
