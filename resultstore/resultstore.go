// Package resultstore holds completed LLM task results in memory for polling
// clients. Entries expire after a TTL; a restart of the API tier loses
// pending results, which clients observe as a request that never completes
// and may resubmit.
package resultstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/metric"
)

// DefaultTTL is how long a result stays available for polling.
const DefaultTTL = time.Hour

type entry struct {
	result   event.Result
	storedAt time.Time
}

// Store is a TTL-bounded in-memory result map keyed by request id. Expired
// entries are pruned lazily on access; there is no background sweeper.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// New creates a result store. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

// Set stores a result, replacing any previous result for the request id.
func (s *Store) Set(result event.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	s.entries[result.RequestID] = entry{result: result, storedAt: s.now()}
}

// Get returns the result for a request id. ok is false while the task is
// still in flight, after expiry, and for ids that never existed; the caller
// cannot tell these apart, and reports all of them as pending.
func (s *Store) Get(requestID string) (event.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	e, ok := s.entries[requestID]
	if !ok {
		return event.Result{}, false
	}
	return e.result, true
}

// Len reports the number of live entries, for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	return len(s.entries)
}

// prune drops expired entries. Caller holds the lock.
func (s *Store) prune() {
	cutoff := s.now().Add(-s.ttl)
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// Subscriber consumes llm.results into the store. Every message is acked:
// a malformed result is logged and dropped, because redelivering it cannot
// make it parseable.
type Subscriber struct {
	store   *Store
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewSubscriber creates a results subscriber.
func NewSubscriber(store *Store, metrics *metric.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{store: store, metrics: metrics, logger: logger}
}

// Handle processes one llm.results message. Always returns nil.
func (s *Subscriber) Handle(_ context.Context, data []byte) error {
	result, err := event.DecodeResult(data)
	if err != nil {
		s.logger.Error("Dropping malformed result", "error", err)
		return nil
	}

	s.store.Set(result)
	if s.metrics != nil {
		s.metrics.ResultsStored.Inc()
	}
	s.logger.Info("Stored LLM result", "request_id", result.RequestID, "status", result.Status)
	return nil
}
