package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

// InterventionStore is the in-process index of active requests, backed by the
// repository. Every mutation of a request goes through WithLock so that a
// concurrent decision submission and an escalation sweep for the same request
// cannot race.
type InterventionStore struct {
	mu     sync.Mutex
	repo   db.Repository
	active map[string]*db.InterventionRequest
	locks  map[string]*sync.Mutex
}

// NewInterventionStore creates an empty store over the repository.
func NewInterventionStore(repo db.Repository) *InterventionStore {
	return &InterventionStore{
		repo:   repo,
		active: make(map[string]*db.InterventionRequest),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Load warms the active index from the repository. Call once at startup.
func (s *InterventionStore) Load(ctx context.Context) error {
	requests, err := s.repo.ListActiveRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active requests: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]*db.InterventionRequest, len(requests))
	for i := range requests {
		req := requests[i]
		s.active[req.ID] = &req
	}
	log.Printf("Intervention store loaded %d active requests", len(requests))
	return nil
}

// WithLock runs fn while holding the per-request lock. fn receives a working
// copy of the request; when fn returns nil the copy is written back to the
// index, otherwise the request is left untouched. Returns ErrNotFound for ids
// not in the active index.
func (s *InterventionStore) WithLock(id string, fn func(req *db.InterventionRequest) error) error {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: request %s", db.ErrNotFound, id)
	}
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Re-read under the entity lock: another caller may have mutated or
	// archived the request while we waited.
	s.mu.Lock()
	current, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: request %s", db.ErrNotFound, id)
	}
	working := *current
	s.mu.Unlock()

	if err := fn(&working); err != nil {
		return err
	}

	s.mu.Lock()
	s.active[id] = &working
	s.mu.Unlock()
	return nil
}

// Put adds a request to the active index.
func (s *InterventionStore) Put(req *db.InterventionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[req.ID] = req
}

// Get returns a copy of an active request.
func (s *InterventionStore) Get(id string) (db.InterventionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.active[id]
	if !ok {
		return db.InterventionRequest{}, false
	}
	return *req, true
}

// Active returns copies of all active requests.
func (s *InterventionStore) Active() []db.InterventionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.InterventionRequest, 0, len(s.active))
	for _, req := range s.active {
		out = append(out, *req)
	}
	return out
}

// ActiveCountFor returns the number of active requests assigned to an expert.
func (s *InterventionStore) ActiveCountFor(expertID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.active {
		if req.AssignedExpert == expertID {
			n++
		}
	}
	return n
}

// Archive removes a terminal request from the active index. The record stays
// in the repository; archived means no longer swept or mutable.
func (s *InterventionStore) Archive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	delete(s.locks, id)
}
