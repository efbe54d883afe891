package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func requestRows(req *InterventionRequest) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "client_id", "intervention_type", "status", "priority", "complexity",
		"title", "description", "context", "ai_recommendation", "ai_confidence",
		"required_level", "assigned_expert", "created_at", "updated_at", "deadline",
		"escalation_history", "tags",
	})
	rows.AddRow(
		req.ID, req.ClientID, string(req.Type), string(req.Status), req.Priority, string(req.Complexity),
		req.Title, req.Description, []byte(`{"order_id":"o-1"}`), req.AIRecommendation, nil,
		string(req.RequiredLevel), nil, req.CreatedAt, req.UpdatedAt, req.Deadline,
		[]byte(`[]`), []byte(`["billing"]`),
	)
	return rows
}

func TestPostgresGetRequest(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	repo := NewPostgresRepository(pg)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	want := &InterventionRequest{
		ID:            "r-1",
		ClientID:      "client-1",
		Type:          TypeConsultation,
		Status:        StatusPending,
		Priority:      5,
		Complexity:    ComplexityMedium,
		Title:         "Refund over threshold",
		RequiredLevel: LevelSenior,
		CreatedAt:     now,
		UpdatedAt:     now,
		Deadline:      now.Add(4 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM intervention_requests").
		WithArgs("r-1").
		WillReturnRows(requestRows(want))

	got, err := repo.GetRequest(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status || got.RequiredLevel != want.RequiredLevel {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Context["order_id"] != "o-1" {
		t.Errorf("context not decoded: %+v", got.Context)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "billing" {
		t.Errorf("tags not decoded: %+v", got.Tags)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresGetRequestNotFound(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	repo := NewPostgresRepository(pg)

	mock.ExpectQuery("SELECT (.+) FROM intervention_requests").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresUpsertRequest(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	repo := NewPostgresRepository(pg)
	now := time.Now()

	req := &InterventionRequest{
		ID:             "r-1",
		ClientID:       "client-1",
		Type:           TypeApprovalRequired,
		Status:         StatusInProgress,
		Priority:       7,
		Complexity:     ComplexityHigh,
		Title:          "Approve vendor payment",
		RequiredLevel:  LevelPrincipal,
		AssignedExpert: "e-1",
		CreatedAt:      now,
		UpdatedAt:      now,
		Deadline:       now.Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO intervention_requests").
		WithArgs("r-1", "client-1", "approval_required", "in_progress", 7, "high",
			"Approve vendor payment", "", sqlmock.AnyArg(), "", nil,
			"principal", "e-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertRequest(context.Background(), req); err != nil {
		t.Fatalf("UpsertRequest failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresListExperts(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	repo := NewPostgresRepository(pg)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "name", "contact", "level", "specialties", "current_load", "max_load",
		"success_rate", "avg_response_minutes", "is_available", "created_at", "updated_at",
	}).
		AddRow("e-1", "Ana", "ana@example.com", "senior", []byte(`["billing"]`), 1, 3, 0.9, 25.0, true, now, now).
		AddRow("e-2", "Bob", "bob@example.com", "lead", []byte(`null`), 0, 2, 0.0, 0.0, true, now, now)

	mock.ExpectQuery("SELECT (.+) FROM expert_profiles").WillReturnRows(rows)

	experts, err := repo.ListExperts(context.Background())
	if err != nil {
		t.Fatalf("ListExperts failed: %v", err)
	}
	if len(experts) != 2 {
		t.Fatalf("want 2 experts, got %d", len(experts))
	}
	if experts[0].Level != LevelSenior || experts[0].Specialties[0] != "billing" {
		t.Errorf("first expert decoded wrong: %+v", experts[0])
	}
	if experts[1].Specialties != nil {
		t.Errorf("null specialties should decode to nil, got %+v", experts[1].Specialties)
	}
}

func TestPostgresSaveDecision(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	repo := NewPostgresRepository(pg)

	decision := &ExpertDecision{
		ID:         "d-1",
		RequestID:  "r-1",
		ExpertID:   "e-1",
		Decision:   "approve",
		Reasoning:  "invoice matches PO",
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec("INSERT INTO expert_decisions").
		WithArgs("d-1", "r-1", "e-1", "approve", "invoice matches PO", 0.9,
			sqlmock.AnyArg(), "", sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveDecision(context.Background(), decision); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
