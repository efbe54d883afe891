package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is a map-backed Repository for tests and single-process
// runs. All returned records are copies; callers never share memory with the
// store.
type MemoryRepository struct {
	mu        sync.RWMutex
	requests  map[string]InterventionRequest
	experts   map[string]ExpertProfile
	decisions map[string]ExpertDecision // keyed by request_id: write-once
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests:  make(map[string]InterventionRequest),
		experts:   make(map[string]ExpertProfile),
		decisions: make(map[string]ExpertDecision),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) GetRequest(ctx context.Context, id string) (*InterventionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRequest(req)
	return &out, nil
}

func (r *MemoryRepository) ListActiveRequests(ctx context.Context) ([]InterventionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []InterventionRequest
	for _, req := range r.requests {
		if !req.Status.Terminal() {
			active = append(active, copyRequest(req))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (r *MemoryRepository) UpsertRequest(ctx context.Context, req *InterventionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = copyRequest(*req)
	return nil
}

func (r *MemoryRepository) GetExpert(ctx context.Context, id string) (*ExpertProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.experts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := profile
	out.Specialties = append([]string(nil), profile.Specialties...)
	return &out, nil
}

func (r *MemoryRepository) ListExperts(ctx context.Context) ([]ExpertProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	experts := make([]ExpertProfile, 0, len(r.experts))
	for _, profile := range r.experts {
		p := profile
		p.Specialties = append([]string(nil), profile.Specialties...)
		experts = append(experts, p)
	}
	sort.Slice(experts, func(i, j int) bool {
		return experts[i].CreatedAt.Before(experts[j].CreatedAt)
	})
	return experts, nil
}

func (r *MemoryRepository) UpsertExpert(ctx context.Context, profile *ExpertProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *profile
	p.Specialties = append([]string(nil), profile.Specialties...)
	r.experts[p.ID] = p
	return nil
}

func (r *MemoryRepository) SaveDecision(ctx context.Context, decision *ExpertDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decisions[decision.RequestID]; exists {
		return fmt.Errorf("%w: decision already recorded for request %s", ErrValidation, decision.RequestID)
	}
	r.decisions[decision.RequestID] = *decision
	return nil
}

// GetDecision returns the recorded decision for a request, if any.
func (r *MemoryRepository) GetDecision(requestID string) (*ExpertDecision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decision, ok := r.decisions[requestID]
	if !ok {
		return nil, false
	}
	return &decision, true
}

func copyRequest(req InterventionRequest) InterventionRequest {
	out := req
	out.EscalationHistory = append([]EscalationEvent(nil), req.EscalationHistory...)
	out.Tags = append([]string(nil), req.Tags...)
	if req.Context != nil {
		out.Context = make(map[string]interface{}, len(req.Context))
		for k, v := range req.Context {
			out.Context[k] = v
		}
	}
	if req.AIConfidence != nil {
		c := *req.AIConfidence
		out.AIConfidence = &c
	}
	return out
}
