package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
	"github.com/ssvgopal/omnifyproduct-sub002/services"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type monitorFixture struct {
	monitor   *EscalationMonitor
	lifecycle *services.LifecycleManager
	registry  *services.ExpertRegistry
	store     *services.InterventionStore
	repo      *db.MemoryRepository
	clock     *fakeClock
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	repo := db.NewMemoryRepository()
	registry := services.NewExpertRegistry(repo)
	store := services.NewInterventionStore(repo)
	clock := newFakeClock()

	lifecycle := services.NewLifecycleManager(repo, registry, store, services.LogSink{}, services.DefaultLifecycleConfig())
	lifecycle.Now = clock.Now

	monitor := NewEscalationMonitor(lifecycle, registry, store, nil, DefaultMonitorConfig())
	monitor.Now = clock.Now
	return &monitorFixture{monitor: monitor, lifecycle: lifecycle, registry: registry, store: store, repo: repo, clock: clock}
}

func (f *monitorFixture) addExpert(t *testing.T, name string, level db.ExpertLevel, maxLoad int) *db.ExpertProfile {
	t.Helper()
	expert, err := f.registry.Register(context.Background(), db.ExpertProfile{Name: name, Level: level, MaxLoad: maxLoad})
	require.NoError(t, err)
	return expert
}

func TestSweepEscalatesPastDeadline(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addExpert(t, "Sen", db.LevelSenior, 3)
	lead := f.addExpert(t, "Lea", db.LevelLead, 3)

	req, err := f.lifecycle.RequestIntervention(ctx, db.CreateInterventionRequest{
		ClientID:        "client-1",
		Type:            db.TypeConsultation,
		Title:           "Tight deadline",
		DeadlineMinutes: 30,
	})
	require.NoError(t, err)
	require.Equal(t, db.StatusInProgress, req.Status)

	f.clock.Advance(31 * time.Minute)
	f.monitor.Sweep(ctx)

	status, err := f.lifecycle.GetInterventionStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, db.LevelLead, status.RequiredLevel)
	assert.Equal(t, lead.ID, status.AssignedExpert)
	assert.Equal(t, 1, status.EscalationCount)

	stored, err := f.repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, stored.EscalationHistory, 1)
	assert.Equal(t, "deadline exceeded", stored.EscalationHistory[0].Reason)

	// The escalation bought breathing room: the next sweep does not fire again
	f.monitor.Sweep(ctx)
	status, _ = f.lifecycle.GetInterventionStatus(ctx, req.ID)
	assert.Equal(t, 1, status.EscalationCount)
}

func TestSweepExpiresAtDirectorCeiling(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addExpert(t, "Dir", db.LevelDirector, 3)

	req, err := f.lifecycle.RequestIntervention(ctx, db.CreateInterventionRequest{
		ClientID:   "client-1",
		Type:       db.TypeEmergency,
		Title:      "No ladder left",
		Complexity: db.ComplexityEmergency,
	})
	require.NoError(t, err)
	require.Equal(t, db.LevelDirector, req.RequiredLevel)

	f.clock.Advance(31 * time.Minute)
	f.monitor.Sweep(ctx)

	status, err := f.lifecycle.GetInterventionStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusExpired, status.Status)
}

func TestSweepEscalatesUnresponsiveExpert(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addExpert(t, "Sen", db.LevelSenior, 3)
	lead := f.addExpert(t, "Lea", db.LevelLead, 3)

	req, err := f.lifecycle.RequestIntervention(ctx, db.CreateInterventionRequest{
		ClientID: "client-1",
		Type:     db.TypeConsultation,
		Title:    "Assignee went quiet",
	})
	require.NoError(t, err)

	// Well within the deadline but past the response timeout
	f.clock.Advance(61 * time.Minute)
	f.monitor.Sweep(ctx)

	status, err := f.lifecycle.GetInterventionStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, status.AssignedExpert)

	stored, err := f.repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, stored.EscalationHistory, 1)
	assert.Equal(t, "no response within timeout", stored.EscalationHistory[0].Reason)
}

func TestSweepRetriesPendingAssignment(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	expert := f.addExpert(t, "Ana", db.LevelSenior, 1)
	require.NoError(t, f.registry.Reserve(ctx, expert.ID))

	req, err := f.lifecycle.RequestIntervention(ctx, db.CreateInterventionRequest{
		ClientID: "client-1",
		Type:     db.TypeConsultation,
		Title:    "Waiting for a free slot",
	})
	require.NoError(t, err)
	require.Equal(t, db.StatusPending, req.Status)

	// Still saturated: sweep is a no-op
	f.monitor.Sweep(ctx)
	status, _ := f.lifecycle.GetInterventionStatus(ctx, req.ID)
	assert.Equal(t, db.StatusPending, status.Status)

	// Slot frees up, the next sweep assigns
	require.NoError(t, f.registry.Release(ctx, expert.ID))
	f.monitor.Sweep(ctx)

	status, err = f.lifecycle.GetInterventionStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusInProgress, status.Status)
	assert.Equal(t, expert.ID, status.AssignedExpert)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.cfg.SweepInterval = 10 * time.Millisecond
	f.monitor.cfg.RefreshInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
