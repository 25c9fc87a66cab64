package cache

import (
	"context"
	"sync"
	"time"

	"github.com/storesync/backend/internal/domain/storesync"
)

// deliverySweepInterval is how often expired deliveries are dropped
const deliverySweepInterval = 5 * time.Minute

// InMemoryDeliveryStore remembers webhook deliveries in process memory. It
// only deduplicates deliveries that reach the same instance.
type InMemoryDeliveryStore struct {
	mu        sync.Mutex
	expires   map[string]time.Time
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDeliveryStore creates the store and starts its sweeper
func NewInMemoryDeliveryStore() *InMemoryDeliveryStore {
	s := &InMemoryDeliveryStore{
		expires:  make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// MarkProcessed records the delivery unless an unexpired record exists
func (s *InMemoryDeliveryStore) MarkProcessed(_ context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[deliveryID]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[deliveryID] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether an unexpired record of the delivery exists
func (s *InMemoryDeliveryStore) IsProcessed(_ context.Context, deliveryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expires[deliveryID]
	return ok && s.now().Before(exp), nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryDeliveryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Len returns the number of remembered deliveries, expired ones included
func (s *InMemoryDeliveryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

func (s *InMemoryDeliveryStore) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(deliverySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryDeliveryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, id)
		}
	}
}

var _ storesync.WebhookDeliveryStore = (*InMemoryDeliveryStore)(nil)
