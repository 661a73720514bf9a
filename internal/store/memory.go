package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/gfs-point-forecast/internal/weather"
)

var (
	// ErrNotFound is returned when no run status is recorded for a product.
	ErrNotFound = errors.New("no run status for product")
)

// StatusHistory holds the run statuses of one product in check order.
type StatusHistory struct {
	Statuses []weather.RunStatus
}

// MemoryStore is a concurrency-safe in-memory run status store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: product name
	data map[string]*StatusHistory

	maxHistory int           // max statuses per product
	maxAge     time.Duration // max age by CheckedAt

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory or maxAge is <= 0, that limit is not applied.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*StatusHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveStatus appends a status for its product and enforces retention. A status
// naming the same run as the previous one only refreshes its check time.
func (s *MemoryStore) SaveStatus(status weather.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[status.Product]
	if !ok {
		history = &StatusHistory{}
		s.data[status.Product] = history
	}

	if n := len(history.Statuses); n > 0 && history.Statuses[n-1].Run.Time().Equal(status.Run.Time()) {
		history.Statuses[n-1].CheckedAt = status.CheckedAt
	} else {
		history.Statuses = append(history.Statuses, status)
	}

	if s.maxHistory > 0 && len(history.Statuses) > s.maxHistory {
		over := len(history.Statuses) - s.maxHistory
		history.Statuses = history.Statuses[over:]
	}

	// The newest status always survives age retention.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Statuses)-1; i++ {
			if !history.Statuses[i].CheckedAt.Before(cutoff) {
				break
			}
		}
		history.Statuses = history.Statuses[i:]
	}
}

// GetLatest returns the most recent status for a product.
func (s *MemoryStore) GetLatest(product string) (weather.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[product]
	if !ok || len(history.Statuses) == 0 {
		return weather.RunStatus{}, ErrNotFound
	}
	return history.Statuses[len(history.Statuses)-1], nil
}

// GetRange returns the statuses of a product checked between from and to (inclusive).
func (s *MemoryStore) GetRange(product string, from, to time.Time) ([]weather.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[product]
	if !ok || len(history.Statuses) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.RunStatus
	for _, st := range history.Statuses {
		if !st.CheckedAt.Before(from) && !st.CheckedAt.After(to) {
			result = append(result, st)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
