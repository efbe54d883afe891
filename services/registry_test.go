package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
)

func newTestRegistry(t *testing.T) (*ExpertRegistry, *db.MemoryRepository) {
	t.Helper()
	repo := db.NewMemoryRepository()
	registry := NewExpertRegistry(repo)
	return registry, repo
}

func mustRegister(t *testing.T, registry *ExpertRegistry, profile db.ExpertProfile) *db.ExpertProfile {
	t.Helper()
	created, err := registry.Register(context.Background(), profile)
	require.NoError(t, err)
	return created
}

func TestRegistryRegisterValidation(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		profile db.ExpertProfile
	}{
		{"zero max load", db.ExpertProfile{Name: "Ana", Level: db.LevelSenior, MaxLoad: 0}},
		{"negative max load", db.ExpertProfile{Name: "Ana", Level: db.LevelSenior, MaxLoad: -2}},
		{"unknown level", db.ExpertProfile{Name: "Ana", Level: "wizard", MaxLoad: 3}},
		{"missing name", db.ExpertProfile{Level: db.LevelSenior, MaxLoad: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Register(ctx, tt.profile)
			assert.True(t, errors.Is(err, db.ErrValidation), "want validation error, got %v", err)
		})
	}
}

func TestRegistryRegisterDefaults(t *testing.T) {
	registry, repo := newTestRegistry(t)

	created := mustRegister(t, registry, db.ExpertProfile{
		Name:    "Ana",
		Level:   db.LevelSenior,
		MaxLoad: 3,
		// Callers cannot pre-load an expert
		CurrentLoad: 2,
	})

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, created.CurrentLoad)
	assert.True(t, created.IsAvailable)

	persisted, err := repo.GetExpert(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, persisted.ID)
}

func TestRegistryRegisterPersistFailureLeavesNoTrace(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: db.NewMemoryRepository(), failExpertUpserts: true}
	registry := NewExpertRegistry(repo)
	ctx := context.Background()

	_, err := registry.Register(ctx, db.ExpertProfile{ID: "e1", Name: "Ana", Level: db.LevelSenior, MaxLoad: 3})
	require.Error(t, err)

	// A failed registration must not be assignable from the cache
	_, ok := registry.Get("e1")
	assert.False(t, ok)
	assert.Empty(t, registry.FindAvailable(db.LevelJunior))

	// The same ID registers cleanly once persistence recovers
	repo.failExpertUpserts = false
	_, err = registry.Register(ctx, db.ExpertProfile{ID: "e1", Name: "Ana", Level: db.LevelSenior, MaxLoad: 3})
	require.NoError(t, err)
}

func TestRegistryReserveRelease(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	expert := mustRegister(t, registry, db.ExpertProfile{Name: "Ana", Level: db.LevelSenior, MaxLoad: 2})

	require.NoError(t, registry.Reserve(ctx, expert.ID))
	require.NoError(t, registry.Reserve(ctx, expert.ID))

	got, ok := registry.Get(expert.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.CurrentLoad)
	assert.False(t, got.IsAvailable)

	// At capacity: the third reservation fails and leaves the load untouched
	err := registry.Reserve(ctx, expert.ID)
	assert.True(t, errors.Is(err, db.ErrCapacityExhausted), "want capacity error, got %v", err)
	got, _ = registry.Get(expert.ID)
	assert.Equal(t, 2, got.CurrentLoad)

	require.NoError(t, registry.Release(ctx, expert.ID))
	got, _ = registry.Get(expert.ID)
	assert.Equal(t, 1, got.CurrentLoad)
	assert.True(t, got.IsAvailable)

	// Release never goes below zero
	require.NoError(t, registry.Release(ctx, expert.ID))
	require.NoError(t, registry.Release(ctx, expert.ID))
	got, _ = registry.Get(expert.ID)
	assert.Equal(t, 0, got.CurrentLoad)
}

func TestRegistryReserveUnknownExpert(t *testing.T) {
	registry, _ := newTestRegistry(t)
	err := registry.Reserve(context.Background(), "nobody")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestRegistryFindAvailableLevelFloor(t *testing.T) {
	registry, _ := newTestRegistry(t)

	junior := mustRegister(t, registry, db.ExpertProfile{Name: "Jun", Level: db.LevelJunior, MaxLoad: 5})
	lead := mustRegister(t, registry, db.ExpertProfile{Name: "Lea", Level: db.LevelLead, MaxLoad: 5})
	director := mustRegister(t, registry, db.ExpertProfile{Name: "Dir", Level: db.LevelDirector, MaxLoad: 5})

	ids := func(profiles []db.ExpertProfile) []string {
		var out []string
		for _, p := range profiles {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{junior.ID, lead.ID, director.ID}, ids(registry.FindAvailable(db.LevelJunior)))
	assert.Equal(t, []string{lead.ID, director.ID}, ids(registry.FindAvailable(db.LevelLead)))
	assert.Equal(t, []string{director.ID}, ids(registry.FindAvailable(db.LevelDirector)))
}

func TestRegistryFindAvailableExcludesSaturated(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	full := mustRegister(t, registry, db.ExpertProfile{Name: "Full", Level: db.LevelSenior, MaxLoad: 1})
	free := mustRegister(t, registry, db.ExpertProfile{Name: "Free", Level: db.LevelSenior, MaxLoad: 1})
	require.NoError(t, registry.Reserve(ctx, full.ID))

	found := registry.FindAvailable(db.LevelJunior)
	require.Len(t, found, 1)
	assert.Equal(t, free.ID, found[0].ID)
}

func TestRegistryFindAvailableSpecialtyRanking(t *testing.T) {
	registry, _ := newTestRegistry(t)

	generalist := mustRegister(t, registry, db.ExpertProfile{Name: "Gen", Level: db.LevelSenior, MaxLoad: 5})
	specialist := mustRegister(t, registry, db.ExpertProfile{
		Name: "Spec", Level: db.LevelSenior, MaxLoad: 5,
		Specialties: []string{"billing", "fraud"},
	})

	// Specialty overlap ranks the specialist first but never excludes the rest
	found := registry.FindAvailable(db.LevelJunior, "fraud")
	require.Len(t, found, 2)
	assert.Equal(t, specialist.ID, found[0].ID)
	assert.Equal(t, generalist.ID, found[1].ID)
}

func TestRegistryRecordOutcome(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	expert := mustRegister(t, registry, db.ExpertProfile{Name: "Ana", Level: db.LevelSenior, MaxLoad: 3})

	// First outcome seeds the rolling stats directly
	registry.RecordOutcome(ctx, expert.ID, 30, true)
	got, _ := registry.Get(expert.ID)
	assert.InDelta(t, 30.0, got.AvgResponse, 0.001)
	assert.InDelta(t, 1.0, got.SuccessRate, 0.001)

	// Subsequent outcomes fold in with alpha 0.2
	registry.RecordOutcome(ctx, expert.ID, 60, false)
	got, _ = registry.Get(expert.ID)
	assert.InDelta(t, 0.8*30+0.2*60, got.AvgResponse, 0.001)
	assert.InDelta(t, 0.8, got.SuccessRate, 0.001)
}

func TestRegistryRefreshAvailability(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	expert := mustRegister(t, registry, db.ExpertProfile{Name: "Ana", Level: db.LevelSenior, MaxLoad: 1})
	require.NoError(t, registry.Reserve(ctx, expert.ID))

	// Simulate a stale flag and let the refresher reconcile it
	registry.mu.Lock()
	registry.experts[expert.ID].IsAvailable = true
	registry.mu.Unlock()

	registry.RefreshAvailability(ctx)
	got, _ := registry.Get(expert.ID)
	assert.False(t, got.IsAvailable)
}

func TestRegistryLoad(t *testing.T) {
	repo := db.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.UpsertExpert(ctx, &db.ExpertProfile{
		ID: "e1", Name: "Ana", Level: db.LevelLead, MaxLoad: 3, IsAvailable: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	registry := NewExpertRegistry(repo)
	require.NoError(t, registry.Load(ctx))

	got, ok := registry.Get("e1")
	require.True(t, ok)
	assert.Equal(t, db.LevelLead, got.Level)
}
