package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ensure PostgresRepository implements Repository
var _ Repository = (*PostgresRepository)(nil)

const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// withRetry runs op up to retryAttempts times with doubling backoff. The
// final error is wrapped in ErrPersistence so callers can treat the failure
// uniformly regardless of driver detail.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	wait := retryBaseWait
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if err == sql.ErrNoRows || ctx.Err() != nil {
			return err
		}
		if attempt < retryAttempts {
			log.Printf("Repository: attempt %d/%d failed, retrying in %v: %v", attempt, retryAttempts, wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

const requestColumns = `id, client_id, intervention_type, status, priority, complexity,
	       title, description, context, ai_recommendation, ai_confidence,
	       required_level, assigned_expert, created_at, updated_at, deadline,
	       escalation_history, tags`

// GetRequest retrieves a single intervention request by ID.
func (r *PostgresRepository) GetRequest(ctx context.Context, id string) (*InterventionRequest, error) {
	var req *InterventionRequest
	err := withRetry(ctx, func() error {
		row := r.db.QueryRowContext(ctx, `
			SELECT `+requestColumns+`
			FROM intervention_requests
			WHERE id = $1
		`, id)
		scanned, err := scanRequest(row)
		if err != nil {
			return err
		}
		req = scanned
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListActiveRequests returns all requests in a non-terminal status.
func (r *PostgresRepository) ListActiveRequests(ctx context.Context) ([]InterventionRequest, error) {
	var requests []InterventionRequest
	err := withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, `
			SELECT `+requestColumns+`
			FROM intervention_requests
			WHERE status IN ($1, $2, $3)
			ORDER BY created_at ASC
		`, StatusPending, StatusInProgress, StatusEscalated)
		if err != nil {
			return err
		}
		defer rows.Close()

		requests = requests[:0]
		for rows.Next() {
			req, err := scanRequest(rows)
			if err != nil {
				return err
			}
			requests = append(requests, *req)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// UpsertRequest inserts or updates an intervention request.
func (r *PostgresRepository) UpsertRequest(ctx context.Context, req *InterventionRequest) error {
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("failed to serialize request context: %w", err)
	}
	historyJSON, err := json.Marshal(req.EscalationHistory)
	if err != nil {
		return fmt.Errorf("failed to serialize escalation history: %w", err)
	}
	tagsJSON, err := json.Marshal(req.Tags)
	if err != nil {
		return fmt.Errorf("failed to serialize tags: %w", err)
	}

	var assigned interface{}
	if req.AssignedExpert != "" {
		assigned = req.AssignedExpert
	}
	var confidence interface{}
	if req.AIConfidence != nil {
		confidence = *req.AIConfidence
	}

	return withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO intervention_requests (
				id, client_id, intervention_type, status, priority, complexity,
				title, description, context, ai_recommendation, ai_confidence,
				required_level, assigned_expert, created_at, updated_at, deadline,
				escalation_history, tags
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				priority = EXCLUDED.priority,
				required_level = EXCLUDED.required_level,
				assigned_expert = EXCLUDED.assigned_expert,
				updated_at = EXCLUDED.updated_at,
				deadline = EXCLUDED.deadline,
				escalation_history = EXCLUDED.escalation_history,
				tags = EXCLUDED.tags
		`, req.ID, req.ClientID, req.Type, req.Status, req.Priority, req.Complexity,
			req.Title, req.Description, contextJSON, req.AIRecommendation, confidence,
			req.RequiredLevel, assigned, req.CreatedAt, req.UpdatedAt, req.Deadline,
			historyJSON, tagsJSON)
		return err
	})
}

// GetExpert retrieves a single expert profile by ID.
func (r *PostgresRepository) GetExpert(ctx context.Context, id string) (*ExpertProfile, error) {
	var profile *ExpertProfile
	err := withRetry(ctx, func() error {
		row := r.db.QueryRowContext(ctx, `
			SELECT id, name, contact, level, specialties, current_load, max_load,
			       success_rate, avg_response_minutes, is_available, created_at, updated_at
			FROM expert_profiles
			WHERE id = $1
		`, id)
		scanned, err := scanExpert(row)
		if err != nil {
			return err
		}
		profile = scanned
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// ListExperts returns all registered expert profiles in registration order.
func (r *PostgresRepository) ListExperts(ctx context.Context) ([]ExpertProfile, error) {
	var experts []ExpertProfile
	err := withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, name, contact, level, specialties, current_load, max_load,
			       success_rate, avg_response_minutes, is_available, created_at, updated_at
			FROM expert_profiles
			ORDER BY created_at ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		experts = experts[:0]
		for rows.Next() {
			profile, err := scanExpert(rows)
			if err != nil {
				return err
			}
			experts = append(experts, *profile)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return experts, nil
}

// UpsertExpert inserts or updates an expert profile.
func (r *PostgresRepository) UpsertExpert(ctx context.Context, profile *ExpertProfile) error {
	specialtiesJSON, err := json.Marshal(profile.Specialties)
	if err != nil {
		return fmt.Errorf("failed to serialize specialties: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO expert_profiles (
				id, name, contact, level, specialties, current_load, max_load,
				success_rate, avg_response_minutes, is_available, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				contact = EXCLUDED.contact,
				level = EXCLUDED.level,
				specialties = EXCLUDED.specialties,
				current_load = EXCLUDED.current_load,
				max_load = EXCLUDED.max_load,
				success_rate = EXCLUDED.success_rate,
				avg_response_minutes = EXCLUDED.avg_response_minutes,
				is_available = EXCLUDED.is_available,
				updated_at = EXCLUDED.updated_at
		`, profile.ID, profile.Name, profile.Contact, profile.Level, specialtiesJSON,
			profile.CurrentLoad, profile.MaxLoad, profile.SuccessRate, profile.AvgResponse,
			profile.IsAvailable, profile.CreatedAt, profile.UpdatedAt)
		return err
	})
}

// SaveDecision persists an expert decision. Decisions are write-once; a
// duplicate insert for the same request fails on the unique constraint.
func (r *PostgresRepository) SaveDecision(ctx context.Context, decision *ExpertDecision) error {
	alternativesJSON, err := json.Marshal(decision.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to serialize alternatives: %w", err)
	}
	followUpJSON, err := json.Marshal(decision.FollowUpActions)
	if err != nil {
		return fmt.Errorf("failed to serialize follow-up actions: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO expert_decisions (
				id, request_id, expert_id, decision, reasoning, confidence,
				alternatives, risk_assessment, follow_up_actions, learning_notes, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, decision.ID, decision.RequestID, decision.ExpertID, decision.Decision,
			decision.Reasoning, decision.Confidence, alternativesJSON,
			decision.RiskAssessment, followUpJSON, decision.LearningNotes, decision.CreatedAt)
		return err
	})
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*InterventionRequest, error) {
	var req InterventionRequest
	var contextJSON, historyJSON, tagsJSON []byte
	var assigned, recommendation sql.NullString
	var confidence sql.NullFloat64

	err := s.Scan(
		&req.ID, &req.ClientID, &req.Type, &req.Status, &req.Priority, &req.Complexity,
		&req.Title, &req.Description, &contextJSON, &recommendation, &confidence,
		&req.RequiredLevel, &assigned, &req.CreatedAt, &req.UpdatedAt, &req.Deadline,
		&historyJSON, &tagsJSON,
	)
	if err != nil {
		return nil, err
	}

	if assigned.Valid {
		req.AssignedExpert = assigned.String
	}
	if recommendation.Valid {
		req.AIRecommendation = recommendation.String
	}
	if confidence.Valid {
		c := confidence.Float64
		req.AIConfidence = &c
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &req.Context); err != nil {
			req.Context = map[string]interface{}{}
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &req.EscalationHistory); err != nil {
			req.EscalationHistory = nil
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &req.Tags); err != nil {
			req.Tags = nil
		}
	}
	return &req, nil
}

func scanExpert(s scanner) (*ExpertProfile, error) {
	var profile ExpertProfile
	var specialtiesJSON []byte

	err := s.Scan(
		&profile.ID, &profile.Name, &profile.Contact, &profile.Level, &specialtiesJSON,
		&profile.CurrentLoad, &profile.MaxLoad, &profile.SuccessRate, &profile.AvgResponse,
		&profile.IsAvailable, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(specialtiesJSON) > 0 {
		if err := json.Unmarshal(specialtiesJSON, &profile.Specialties); err != nil {
			profile.Specialties = nil
		}
	}
	return &profile, nil
}
