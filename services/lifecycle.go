package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

// LifecycleConfig carries the SLA knobs for the lifecycle manager.
type LifecycleConfig struct {
	DefaultSLA      time.Duration // deadline when the caller gives none
	EmergencySLA    time.Duration // deadline for emergency-type requests
	EscalationGrace time.Duration // deadline extension granted by an escalation
}

// DefaultLifecycleConfig returns the stock SLA settings.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		DefaultSLA:      240 * time.Minute,
		EmergencySLA:    30 * time.Minute,
		EscalationGrace: 30 * time.Minute,
	}
}

// LifecycleManager enforces the intervention request state machine:
//
//	Pending -> InProgress -> Completed
//	Pending|InProgress -> Escalated -> InProgress (possibly repeated)
//	Pending|InProgress -> Expired
//
// It owns InterventionRequest records; creation and every mutation go through
// this type (the escalation monitor drives it, never the store directly).
type LifecycleManager struct {
	repo     db.Repository
	registry *ExpertRegistry
	engine   *AssignmentEngine
	store    *InterventionStore
	recorder *DecisionRecorder
	sink     NotificationSink
	cfg      LifecycleConfig

	// Now is the clock used for deadlines and timestamps. Overridable in tests.
	Now func() time.Time
}

// NewLifecycleManager wires the lifecycle manager and its decision recorder.
func NewLifecycleManager(repo db.Repository, registry *ExpertRegistry, store *InterventionStore, sink NotificationSink, cfg LifecycleConfig) *LifecycleManager {
	m := &LifecycleManager{
		repo:     repo,
		registry: registry,
		engine:   NewAssignmentEngine(registry),
		store:    store,
		sink:     sink,
		cfg:      cfg,
		Now:      time.Now,
	}
	m.recorder = NewDecisionRecorder(repo, registry, store, sink)
	m.recorder.now = func() time.Time { return m.Now() }
	return m
}

// RequestIntervention creates a new request, derives its required expert
// level and deadline, and attempts immediate assignment. When every eligible
// expert is saturated the request stays Pending: that is not an error, the
// monitor sweep will retry as capacity frees up.
func (m *LifecycleManager) RequestIntervention(ctx context.Context, input db.CreateInterventionRequest) (*db.InterventionRequest, error) {
	if input.Priority == 0 {
		input.Priority = 5
	}
	if input.Complexity == "" {
		input.Complexity = db.ComplexityMedium
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	now := m.Now()
	req := &db.InterventionRequest{
		ID:               uuid.New().String(),
		ClientID:         input.ClientID,
		Type:             input.Type,
		Status:           db.StatusPending,
		Priority:         input.Priority,
		Complexity:       input.Complexity,
		Title:            input.Title,
		Description:      input.Description,
		Context:          input.Context,
		AIRecommendation: input.AIRecommendation,
		AIConfidence:     input.AIConfidence,
		RequiredLevel:    RequiredLevelFor(input.Complexity, input.Priority),
		CreatedAt:        now,
		UpdatedAt:        now,
		Deadline:         m.deadlineFor(input, now),
		Tags:             input.Tags,
	}

	expertID, err := m.engine.Assign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("assignment failed for request %s: %w", req.ID, err)
	}
	if expertID != "" {
		req.Status = db.StatusInProgress
		req.AssignedExpert = expertID
	} else {
		log.Printf("No expert available at level %s for request %s, staying pending", req.RequiredLevel, req.ID)
	}

	if err := m.repo.UpsertRequest(ctx, req); err != nil {
		// Roll the reservation back so registry load stays consistent with
		// what was actually persisted.
		if expertID != "" {
			_ = m.registry.Release(ctx, expertID)
		}
		return nil, fmt.Errorf("failed to persist request: %w", err)
	}

	stored := *req
	m.store.Put(&stored)

	notify(ctx, m.sink, Event{Type: "created", RequestID: req.ID, ClientID: req.ClientID, At: now})
	if expertID != "" {
		notify(ctx, m.sink, Event{Type: "assigned", RequestID: req.ID, ClientID: req.ClientID, ExpertID: expertID, At: now})
	}
	return req, nil
}

func (m *LifecycleManager) deadlineFor(input db.CreateInterventionRequest, now time.Time) time.Time {
	if input.DeadlineMinutes > 0 {
		return now.Add(time.Duration(input.DeadlineMinutes) * time.Minute)
	}
	if input.Type == db.TypeEmergency {
		return now.Add(m.cfg.EmergencySLA)
	}
	return now.Add(m.cfg.DefaultSLA)
}

func validateCreate(input db.CreateInterventionRequest) error {
	if input.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", db.ErrValidation)
	}
	if input.Title == "" {
		return fmt.Errorf("%w: title is required", db.ErrValidation)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown intervention type %q", db.ErrValidation, input.Type)
	}
	if !input.Complexity.Valid() {
		return fmt.Errorf("%w: unknown complexity %q", db.ErrValidation, input.Complexity)
	}
	if input.Priority < 1 || input.Priority > 10 {
		return fmt.Errorf("%w: priority must be between 1 and 10", db.ErrValidation)
	}
	if input.AIConfidence != nil && (*input.AIConfidence < 0 || *input.AIConfidence > 1) {
		return fmt.Errorf("%w: ai_confidence must be between 0 and 1", db.ErrValidation)
	}
	if input.DeadlineMinutes < 0 {
		return fmt.Errorf("%w: deadline_minutes must not be negative", db.ErrValidation)
	}
	return nil
}

// Escalate raises the request's required level by one tier, or to targetLevel
// when that sits higher than the current requirement. The ceiling is
// Director: escalating from Director records a history entry with no level
// change and returns false. Any previously assigned expert is released and
// assignment is re-attempted at the new level.
func (m *LifecycleManager) Escalate(ctx context.Context, requestID, reason string, targetLevel db.ExpertLevel) (bool, error) {
	if targetLevel != "" && !targetLevel.Valid() {
		return false, fmt.Errorf("%w: unknown expert level %q", db.ErrValidation, targetLevel)
	}

	raised := false
	var events []Event

	err := m.store.WithLock(requestID, func(req *db.InterventionRequest) error {
		// A decision can complete the request between its write-back and the
		// archive that removes it from the index; never revive it here.
		if req.Status.Terminal() {
			return fmt.Errorf("%w: request %s is already %s", db.ErrValidation, req.ID, req.Status)
		}

		now := m.Now()
		from := req.RequiredLevel

		to := from
		if targetLevel != "" && targetLevel.Rank() > from.Rank() {
			to = targetLevel
		} else if next, ok := from.Next(); ok {
			to = next
		}
		raised = to != from
		if !raised {
			// Already at Director: history still records the attempt so the
			// operator can see the request needs manual attention.
			log.Printf("WARNING: request %s: %v (reason: %s)", req.ID, db.ErrEscalationExhausted, reason)
		}

		req.EscalationHistory = append(req.EscalationHistory, db.EscalationEvent{
			Timestamp: now,
			Reason:    reason,
			FromLevel: from,
			ToLevel:   to,
		})
		req.RequiredLevel = to

		priorExpert := req.AssignedExpert
		if priorExpert != "" {
			if err := m.registry.Release(ctx, priorExpert); err != nil {
				log.Printf("Escalation: failed to release expert %s: %v", priorExpert, err)
			}
			req.AssignedExpert = ""
		}

		expertID, err := m.engine.Assign(ctx, req)
		if err != nil {
			return fmt.Errorf("reassignment failed for request %s: %w", req.ID, err)
		}
		if expertID != "" {
			req.Status = db.StatusInProgress
			req.AssignedExpert = expertID
		} else {
			req.Status = db.StatusEscalated
		}
		req.UpdatedAt = now
		if grace := now.Add(m.cfg.EscalationGrace); grace.After(req.Deadline) {
			req.Deadline = grace
		}

		if err := m.repo.UpsertRequest(ctx, req); err != nil {
			// The working copy is discarded, so the registry must be rolled
			// back to match the surviving record: undo the new reservation
			// and restore the prior expert's slot.
			if expertID != "" {
				_ = m.registry.Release(ctx, expertID)
			}
			if priorExpert != "" {
				if rerr := m.registry.Reserve(ctx, priorExpert); rerr != nil {
					log.Printf("Escalation rollback: failed to restore slot for expert %s: %v", priorExpert, rerr)
				}
			}
			return fmt.Errorf("failed to persist escalation: %w", err)
		}

		events = append(events, Event{
			Type: "escalated", RequestID: req.ID, ClientID: req.ClientID, At: now,
			Details: map[string]interface{}{"reason": reason, "from_level": from, "to_level": to},
		})
		if expertID != "" {
			events = append(events, Event{Type: "assigned", RequestID: req.ID, ClientID: req.ClientID, ExpertID: expertID, At: now})
		}
		log.Printf("Escalated request %s from %s to %s (reason: %s, assigned: %q)", req.ID, from, to, reason, expertID)
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, event := range events {
		notify(ctx, m.sink, event)
	}
	return raised, nil
}

// RetryAssignment re-attempts assignment for a request waiting on capacity
// (Pending, or Escalated with nobody found). Used by the monitor sweep so
// freed expert capacity is discovered without a client retry. Returns true
// when an expert was assigned.
func (m *LifecycleManager) RetryAssignment(ctx context.Context, requestID string) (bool, error) {
	assigned := ""
	var clientID string

	err := m.store.WithLock(requestID, func(req *db.InterventionRequest) error {
		if req.Status != db.StatusPending && req.Status != db.StatusEscalated {
			return nil
		}
		if req.AssignedExpert != "" {
			return nil
		}

		expertID, err := m.engine.Assign(ctx, req)
		if err != nil {
			return fmt.Errorf("assignment retry failed for request %s: %w", req.ID, err)
		}
		if expertID == "" {
			return nil
		}

		now := m.Now()
		req.Status = db.StatusInProgress
		req.AssignedExpert = expertID
		req.UpdatedAt = now

		if err := m.repo.UpsertRequest(ctx, req); err != nil {
			_ = m.registry.Release(ctx, expertID)
			return fmt.Errorf("failed to persist assignment: %w", err)
		}
		assigned = expertID
		clientID = req.ClientID
		return nil
	})
	if err != nil {
		return false, err
	}
	if assigned != "" {
		notify(ctx, m.sink, Event{Type: "assigned", RequestID: requestID, ClientID: clientID, ExpertID: assigned, At: m.Now()})
	}
	return assigned != "", nil
}

// Expire moves a request past its deadline with no remaining escalation room
// into the terminal Expired state.
func (m *LifecycleManager) Expire(ctx context.Context, requestID, reason string) error {
	var released string
	var clientID string

	err := m.store.WithLock(requestID, func(req *db.InterventionRequest) error {
		if req.Status.Terminal() {
			return nil
		}
		now := m.Now()
		if req.AssignedExpert != "" {
			released = req.AssignedExpert
			req.AssignedExpert = ""
		}
		req.Status = db.StatusExpired
		req.UpdatedAt = now
		clientID = req.ClientID

		if err := m.repo.UpsertRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to persist expiry: %w", err)
		}
		log.Printf("WARNING: request %s expired (%s), needs manual attention", req.ID, reason)
		return nil
	})
	if err != nil {
		return err
	}

	if released != "" {
		if err := m.registry.Release(ctx, released); err != nil {
			log.Printf("Expiry: failed to release expert %s: %v", released, err)
		}
	}
	m.store.Archive(requestID)
	notify(ctx, m.sink, Event{Type: "expired", RequestID: requestID, ClientID: clientID, At: m.Now(),
		Details: map[string]interface{}{"reason": reason}})
	return nil
}

// SubmitDecision records the expert's final decision and completes the
// request. Only valid from InProgress/Escalated by the assigned expert.
func (m *LifecycleManager) SubmitDecision(ctx context.Context, requestID string, input db.SubmitDecisionRequest) (*db.ExpertDecision, error) {
	return m.recorder.SubmitDecision(ctx, requestID, input)
}

// GetInterventionStatus returns the read model for a request. Archived
// (terminal) requests are served from the repository.
func (m *LifecycleManager) GetInterventionStatus(ctx context.Context, requestID string) (*db.InterventionStatus, error) {
	if req, ok := m.store.Get(requestID); ok {
		return m.statusOf(&req), nil
	}
	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return m.statusOf(req), nil
}

func (m *LifecycleManager) statusOf(req *db.InterventionRequest) *db.InterventionStatus {
	return &db.InterventionStatus{
		ID:                req.ID,
		Status:            req.Status,
		Priority:          req.Priority,
		Complexity:        req.Complexity,
		RequiredLevel:     req.RequiredLevel,
		AssignedExpert:    req.AssignedExpert,
		Deadline:          req.Deadline,
		MinutesToDeadline: req.Deadline.Sub(m.Now()).Minutes(),
		EscalationCount:   len(req.EscalationHistory),
		CreatedAt:         req.CreatedAt,
		UpdatedAt:         req.UpdatedAt,
	}
}

// GetExpertWorkload returns the capacity read model for an expert.
func (m *LifecycleManager) GetExpertWorkload(expertID string) (*db.ExpertWorkload, error) {
	profile, ok := m.registry.Get(expertID)
	if !ok {
		return nil, fmt.Errorf("%w: expert %s", db.ErrNotFound, expertID)
	}
	return &db.ExpertWorkload{
		ExpertID:    profile.ID,
		CurrentLoad: profile.CurrentLoad,
		MaxLoad:     profile.MaxLoad,
		ActiveCount: m.store.ActiveCountFor(expertID),
		IsAvailable: profile.IsAvailable,
		SuccessRate: profile.SuccessRate,
		AvgResponse: profile.AvgResponse,
	}, nil
}
