package db

import "context"

// Repository is the persistence boundary for the intervention core. The core
// assumes eventual persistence, not a specific store; implementations retry
// transient failures internally with bounded backoff and wrap anything that
// still fails in ErrPersistence.
type Repository interface {
	GetRequest(ctx context.Context, id string) (*InterventionRequest, error)
	ListActiveRequests(ctx context.Context) ([]InterventionRequest, error)
	UpsertRequest(ctx context.Context, req *InterventionRequest) error

	GetExpert(ctx context.Context, id string) (*ExpertProfile, error)
	ListExperts(ctx context.Context) ([]ExpertProfile, error)
	UpsertExpert(ctx context.Context, profile *ExpertProfile) error

	SaveDecision(ctx context.Context, decision *ExpertDecision) error
}
