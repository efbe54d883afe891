package services

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

// AssignmentEngine selects the best available expert for a request. It is
// greedy and stateless per call; there is no request queue beyond the
// escalation monitor re-invoking assignment for pending requests.
type AssignmentEngine struct {
	registry *ExpertRegistry
}

// NewAssignmentEngine creates an assignment engine over the given registry.
func NewAssignmentEngine(registry *ExpertRegistry) *AssignmentEngine {
	return &AssignmentEngine{registry: registry}
}

// RequiredLevelFor derives the minimum expert level from complexity and
// priority. The higher of the two signals wins.
func RequiredLevelFor(complexity db.Complexity, priority int) db.ExpertLevel {
	switch {
	case complexity == db.ComplexityEmergency || priority >= 9:
		return db.LevelDirector
	case complexity == db.ComplexityCritical || priority >= 7:
		return db.LevelPrincipal
	case complexity == db.ComplexityHigh || priority >= 5:
		return db.LevelLead
	case complexity == db.ComplexityMedium || priority >= 3:
		return db.LevelSenior
	default:
		return db.LevelJunior
	}
}

// Assign picks the available expert at or above the request's required level
// minimizing (current_load, avg_response_time), ties broken by registration
// order, and reserves their capacity. Returns "" with a nil error when no
// expert is available: the request simply stays pending.
func (e *AssignmentEngine) Assign(ctx context.Context, req *db.InterventionRequest) (string, error) {
	candidates := e.registry.FindAvailable(req.RequiredLevel, req.Tags...)
	if len(candidates) == 0 {
		return "", nil
	}

	// Stable sort keeps registration order as the final tie-breaker.
	sort.SliceStable(candidates, func(i, j int) bool {
		return better(candidates[i], candidates[j])
	})

	// A concurrent assignment can win the race for the chosen expert; fall
	// through to the next best candidate instead of failing the request.
	for _, candidate := range candidates {
		err := e.registry.Reserve(ctx, candidate.ID)
		if err == nil {
			log.Printf("Assigned request %s to expert %s (level %s, load %d/%d)",
				req.ID, candidate.ID, candidate.Level, candidate.CurrentLoad+1, candidate.MaxLoad)
			return candidate.ID, nil
		}
		if errors.Is(err, db.ErrCapacityExhausted) {
			continue
		}
		return "", err
	}
	return "", nil
}

// better reports whether a is a strictly better pick than b.
func better(a, b db.ExpertProfile) bool {
	if a.CurrentLoad != b.CurrentLoad {
		return a.CurrentLoad < b.CurrentLoad
	}
	return a.AvgResponse < b.AvgResponse
}
