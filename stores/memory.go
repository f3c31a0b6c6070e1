package stores

import (
	"context"
	"sync"
	"time"

	"fms-api/models"
)

// MemoryStore keeps the simulation in process memory. Snapshots are copied on
// the way in and out so callers never share the stored matches.
type MemoryStore struct {
	mu      sync.RWMutex
	current *models.Simulation
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) FindCurrent(ctx context.Context) (*models.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, sim *models.Simulation) (*models.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := sim.Clone()
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.current = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Name != name {
		return nil, ErrNotFound
	}
	upd.Apply(s.current)
	s.current.UpdatedAt = s.now()
	return s.current.Clone(), nil
}
