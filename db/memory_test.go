package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepositoryDecisionWriteOnce(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := &ExpertDecision{ID: "d-1", RequestID: "r-1", ExpertID: "e-1", Decision: "approve"}
	if err := repo.SaveDecision(ctx, first); err != nil {
		t.Fatalf("first SaveDecision failed: %v", err)
	}

	second := &ExpertDecision{ID: "d-2", RequestID: "r-1", ExpertID: "e-2", Decision: "deny"}
	err := repo.SaveDecision(ctx, second)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("want ErrValidation for duplicate decision, got %v", err)
	}

	got, ok := repo.GetDecision("r-1")
	if !ok || got.ID != "d-1" {
		t.Errorf("original decision should survive, got %+v", got)
	}
}

func TestMemoryRepositoryListActiveSkipsTerminal(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	for i, status := range []RequestStatus{StatusPending, StatusCompleted, StatusEscalated, StatusExpired} {
		req := &InterventionRequest{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.UpsertRequest(ctx, req); err != nil {
			t.Fatalf("UpsertRequest failed: %v", err)
		}
	}

	active, err := repo.ListActiveRequests(ctx)
	if err != nil {
		t.Fatalf("ListActiveRequests failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("want 2 active requests, got %d", len(active))
	}
	if active[0].Status != StatusPending || active[1].Status != StatusEscalated {
		t.Errorf("wrong requests or order: %+v", active)
	}
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	req := &InterventionRequest{
		ID:     "r-1",
		Status: StatusPending,
		Tags:   []string{"billing"},
	}
	if err := repo.UpsertRequest(ctx, req); err != nil {
		t.Fatalf("UpsertRequest failed: %v", err)
	}

	got, err := repo.GetRequest(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	got.Tags[0] = "mutated"
	got.Status = StatusExpired

	fresh, err := repo.GetRequest(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if fresh.Tags[0] != "billing" || fresh.Status != StatusPending {
		t.Errorf("stored record was mutated through a returned copy: %+v", fresh)
	}
}
