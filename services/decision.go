package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

// DecisionRecorder captures the expert's final decision on a request and
// closes it out: the decision becomes the immutable record of what the human
// decided, the request moves to Completed, and the expert's slot and rolling
// performance stats are updated.
type DecisionRecorder struct {
	repo     db.Repository
	registry *ExpertRegistry
	store    *InterventionStore
	sink     NotificationSink

	now func() time.Time
}

func NewDecisionRecorder(repo db.Repository, registry *ExpertRegistry, store *InterventionStore, sink NotificationSink) *DecisionRecorder {
	return &DecisionRecorder{
		repo:     repo,
		registry: registry,
		store:    store,
		sink:     sink,
		now:      time.Now,
	}
}

// SubmitDecision validates authorship and state, persists the decision, and
// completes the request. Authorization failures leave the request untouched:
// only the assigned expert may decide, and only while the request is
// InProgress or Escalated.
func (d *DecisionRecorder) SubmitDecision(ctx context.Context, requestID string, input db.SubmitDecisionRequest) (*db.ExpertDecision, error) {
	if input.ExpertID == "" {
		return nil, fmt.Errorf("%w: expert_id is required", db.ErrValidation)
	}
	if input.Decision == "" {
		return nil, fmt.Errorf("%w: decision is required", db.ErrValidation)
	}
	confidence := 0.8
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be between 0 and 1", db.ErrValidation)
	}

	var decision *db.ExpertDecision
	var responseMinutes float64
	var clientID string

	err := d.store.WithLock(requestID, func(req *db.InterventionRequest) error {
		if req.Status != db.StatusInProgress && req.Status != db.StatusEscalated {
			return fmt.Errorf("%w: request %s is %s, decisions are only accepted in progress", db.ErrValidation, req.ID, req.Status)
		}
		if req.AssignedExpert != input.ExpertID {
			return fmt.Errorf("%w: expert %s is not assigned to request %s", db.ErrUnauthorized, input.ExpertID, req.ID)
		}

		now := d.now()
		decision = &db.ExpertDecision{
			ID:              uuid.New().String(),
			RequestID:       req.ID,
			ExpertID:        input.ExpertID,
			Decision:        input.Decision,
			Reasoning:       input.Reasoning,
			Confidence:      confidence,
			Alternatives:    input.Alternatives,
			RiskAssessment:  input.RiskAssessment,
			FollowUpActions: input.FollowUpActions,
			LearningNotes:   input.LearningNotes,
			CreatedAt:       now,
		}
		if err := d.repo.SaveDecision(ctx, decision); err != nil {
			return fmt.Errorf("failed to persist decision: %w", err)
		}

		req.Status = db.StatusCompleted
		req.UpdatedAt = now
		responseMinutes = now.Sub(req.CreatedAt).Minutes()
		clientID = req.ClientID

		if err := d.repo.UpsertRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to persist completion: %w", err)
		}
		return nil
	})
	if errors.Is(err, db.ErrNotFound) {
		// The request may have been archived already: report its terminal
		// state rather than pretending it never existed.
		if archived, repoErr := d.repo.GetRequest(ctx, requestID); repoErr == nil {
			return nil, fmt.Errorf("%w: request %s is already %s", db.ErrValidation, archived.ID, archived.Status)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := d.registry.Release(ctx, input.ExpertID); err != nil {
		log.Printf("Decision: failed to release expert %s: %v", input.ExpertID, err)
	}
	d.registry.RecordOutcome(ctx, input.ExpertID, responseMinutes, confidence >= 0.5)
	d.store.Archive(requestID)

	notify(ctx, d.sink, Event{
		Type: "decided", RequestID: requestID, ClientID: clientID, ExpertID: input.ExpertID, At: d.now(),
		Details: map[string]interface{}{"decision_id": decision.ID, "confidence": confidence},
	})
	log.Printf("Request %s completed by expert %s (%.0f min)", requestID, input.ExpertID, responseMinutes)
	return decision, nil
}
