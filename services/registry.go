package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

// ExpertRegistry holds expert profiles and their capacity. Load counters are
// mutated only through Reserve/Release under the registry mutex; persistence
// writes happen after the lock is dropped.
type ExpertRegistry struct {
	mu      sync.Mutex
	repo    db.Repository
	experts map[string]*db.ExpertProfile
	order   []string // registration order, for deterministic tie-breaking
	now     func() time.Time
}

// NewExpertRegistry creates a registry backed by the given repository.
func NewExpertRegistry(repo db.Repository) *ExpertRegistry {
	return &ExpertRegistry{
		repo:    repo,
		experts: make(map[string]*db.ExpertProfile),
		now:     time.Now,
	}
}

// Load warms the in-process cache from the repository. Call once at startup.
func (r *ExpertRegistry) Load(ctx context.Context) error {
	experts, err := r.repo.ListExperts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load experts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts = make(map[string]*db.ExpertProfile, len(experts))
	r.order = r.order[:0]
	for i := range experts {
		profile := experts[i]
		r.experts[profile.ID] = &profile
		r.order = append(r.order, profile.ID)
	}
	log.Printf("Expert registry loaded %d experts", len(experts))
	return nil
}

// Register inserts a new expert profile.
func (r *ExpertRegistry) Register(ctx context.Context, profile db.ExpertProfile) (*db.ExpertProfile, error) {
	if profile.MaxLoad <= 0 {
		return nil, fmt.Errorf("%w: max_load must be positive", db.ErrValidation)
	}
	if !profile.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown expert level %q", db.ErrValidation, profile.Level)
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("%w: name is required", db.ErrValidation)
	}

	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	now := r.now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	profile.CurrentLoad = 0
	profile.IsAvailable = true

	r.mu.Lock()
	if _, exists := r.experts[profile.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: expert %s already registered", db.ErrValidation, profile.ID)
	}
	r.mu.Unlock()

	// Persist first: a registration that fails to persist must leave no
	// trace, or assignment could pick an expert that vanishes on restart.
	if err := r.repo.UpsertExpert(ctx, &profile); err != nil {
		return nil, fmt.Errorf("failed to persist expert %s: %w", profile.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.experts[profile.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: expert %s already registered", db.ErrValidation, profile.ID)
	}
	stored := profile
	r.experts[profile.ID] = &stored
	r.order = append(r.order, profile.ID)
	r.mu.Unlock()
	log.Printf("Registered expert %s (%s, level %s, max load %d)", profile.Name, profile.ID, profile.Level, profile.MaxLoad)
	return &profile, nil
}

// FindAvailable returns copies of all available experts at or above minLevel,
// in registration order. When specialties are given, candidates are ranked by
// overlap count (stable, so registration order still breaks ties); a missing
// specialty never excludes an expert.
func (r *ExpertRegistry) FindAvailable(minLevel db.ExpertLevel, specialties ...string) []db.ExpertProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []db.ExpertProfile
	for _, id := range r.order {
		profile := r.experts[id]
		if profile.IsAvailable && profile.CurrentLoad < profile.MaxLoad && profile.Level.AtLeast(minLevel) {
			candidates = append(candidates, *profile)
		}
	}
	if len(specialties) > 0 && len(candidates) > 1 {
		rankBySpecialty(candidates, specialties)
	}
	return candidates
}

// rankBySpecialty stable-sorts candidates by descending specialty overlap.
func rankBySpecialty(candidates []db.ExpertProfile, specialties []string) {
	want := make(map[string]bool, len(specialties))
	for _, s := range specialties {
		want[s] = true
	}
	overlap := func(p db.ExpertProfile) int {
		n := 0
		for _, s := range p.Specialties {
			if want[s] {
				n++
			}
		}
		return n
	}
	// insertion sort keeps the sort stable for equal overlap
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && overlap(candidates[j]) > overlap(candidates[j-1]); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

// Reserve atomically increments the expert's load. Fails with
// ErrCapacityExhausted when the expert is already at max load, which guards
// against races between concurrent assignments targeting the same expert.
func (r *ExpertRegistry) Reserve(ctx context.Context, expertID string) error {
	r.mu.Lock()
	profile, ok := r.experts[expertID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: expert %s", db.ErrNotFound, expertID)
	}
	if profile.CurrentLoad >= profile.MaxLoad {
		r.mu.Unlock()
		return fmt.Errorf("%w: expert %s at %d/%d", db.ErrCapacityExhausted, expertID, profile.CurrentLoad, profile.MaxLoad)
	}
	profile.CurrentLoad++
	profile.IsAvailable = profile.CurrentLoad < profile.MaxLoad
	profile.UpdatedAt = r.now()
	snapshot := *profile
	r.mu.Unlock()

	r.persist(ctx, &snapshot)
	return nil
}

// Release atomically decrements the expert's load, floored at zero.
func (r *ExpertRegistry) Release(ctx context.Context, expertID string) error {
	r.mu.Lock()
	profile, ok := r.experts[expertID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: expert %s", db.ErrNotFound, expertID)
	}
	if profile.CurrentLoad > 0 {
		profile.CurrentLoad--
	}
	profile.IsAvailable = profile.CurrentLoad < profile.MaxLoad
	profile.UpdatedAt = r.now()
	snapshot := *profile
	r.mu.Unlock()

	r.persist(ctx, &snapshot)
	return nil
}

// RefreshAvailability recomputes is_available for all profiles. Invoked
// periodically rather than on every read, so availability polling cadence is
// decoupled from load changes.
func (r *ExpertRegistry) RefreshAvailability(ctx context.Context) {
	r.mu.Lock()
	var changed []db.ExpertProfile
	for _, profile := range r.experts {
		available := profile.CurrentLoad < profile.MaxLoad
		if profile.IsAvailable != available {
			profile.IsAvailable = available
			profile.UpdatedAt = r.now()
			changed = append(changed, *profile)
		}
	}
	r.mu.Unlock()

	for i := range changed {
		r.persist(ctx, &changed[i])
	}
	if len(changed) > 0 {
		log.Printf("Availability refresh updated %d experts", len(changed))
	}
}

// RecordOutcome folds a completed decision into the expert's rolling stats
// using an exponential moving average.
func (r *ExpertRegistry) RecordOutcome(ctx context.Context, expertID string, responseMinutes float64, success bool) {
	const alpha = 0.2

	r.mu.Lock()
	profile, ok := r.experts[expertID]
	if !ok {
		r.mu.Unlock()
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if profile.AvgResponse == 0 {
		profile.AvgResponse = responseMinutes
	} else {
		profile.AvgResponse = (1-alpha)*profile.AvgResponse + alpha*responseMinutes
	}
	if profile.SuccessRate == 0 {
		profile.SuccessRate = outcome
	} else {
		profile.SuccessRate = (1-alpha)*profile.SuccessRate + alpha*outcome
	}
	profile.UpdatedAt = r.now()
	snapshot := *profile
	r.mu.Unlock()

	r.persist(ctx, &snapshot)
}

// Get returns a copy of the expert profile.
func (r *ExpertRegistry) Get(expertID string) (db.ExpertProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.experts[expertID]
	if !ok {
		return db.ExpertProfile{}, false
	}
	return *profile, true
}

// persist writes a profile snapshot outside the registry lock. The in-memory
// counters are authoritative; a failed write is logged and picked up by the
// next successful one.
func (r *ExpertRegistry) persist(ctx context.Context, profile *db.ExpertProfile) {
	if err := r.repo.UpsertExpert(ctx, profile); err != nil {
		log.Printf("Registry: failed to persist expert %s: %v", profile.ID, err)
	}
}
