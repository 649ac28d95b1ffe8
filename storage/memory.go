package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockwatch/models"
)

// MemoryStore keeps tracked products in a map under an RWMutex. Used by
// tests and by one-shot scans that do not need durability.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[models.ProductKey]models.TrackedProduct
	failures map[string]int
	runs     []models.ScanRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[models.ProductKey]models.TrackedProduct),
		failures: make(map[string]int),
	}
}

func (s *MemoryStore) GetAll(_ context.Context, storeID string) ([]models.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var products []models.TrackedProduct
	for _, p := range s.products {
		if p.StoreID == storeID {
			p.ConsecutiveFailures = s.failures[storeID]
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ExternalID < products[j].ExternalID
	})
	return products, nil
}

func (s *MemoryStore) Get(_ context.Context, key models.ProductKey) (*models.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[key]
	if !ok {
		return nil, nil
	}
	p.ConsecutiveFailures = s.failures[key.StoreID]
	return &p, nil
}

func (s *MemoryStore) Upsert(_ context.Context, snap *models.ProductSnapshot) (*models.TrackedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snap.Key()
	existing, ok := s.products[key]

	p := models.TrackedProduct{
		StoreID:        snap.StoreID,
		ExternalID:     snap.ExternalID,
		Name:           snap.Name,
		URL:            snap.URL,
		LastStock:      snap.Stock,
		LastPrice:      snap.Price,
		LastCheckedAt:  snap.ObservedAt,
		FirstTrackedAt: snap.ObservedAt,
	}
	if ok {
		p.FirstTrackedAt = existing.FirstTrackedAt
	}

	s.products[key] = p
	p.ConsecutiveFailures = s.failures[key.StoreID]
	return &p, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, storeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[storeID]++
	return s.failures[storeID], nil
}

func (s *MemoryStore) ResetFailures(_ context.Context, storeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[storeID] = 0
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.ScanRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.ID = int64(len(s.runs) + 1)
	s.runs = append(s.runs, *run)
	return run.ID, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) GetStale(_ context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []models.TrackedProduct
	for _, p := range s.products {
		if p.LastCheckedAt.Before(olderThan) && p.URL != "" {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastCheckedAt.Before(stale[j].LastCheckedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) Touch(_ context.Context, key models.ProductKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.products[key]; ok {
		p.LastCheckedAt = at
		s.products[key] = p
	}
	return nil
}

func (s *MemoryStore) MarkUnknown(_ context.Context, key models.ProductKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.products[key]; ok {
		p.LastStock = models.StockUnknown
		p.LastCheckedAt = at
		s.products[key] = p
	}
	return nil
}
