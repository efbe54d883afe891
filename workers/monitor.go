package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ssvgopal/omnifyproduct-sub002/db"
	"github.com/ssvgopal/omnifyproduct-sub002/services"
)

// MonitorConfig carries the cadence and timeout knobs for the monitor.
type MonitorConfig struct {
	SweepInterval   time.Duration // between deadline/timeout sweeps
	RefreshInterval time.Duration // between availability refreshes
	ResponseTimeout time.Duration // max time in progress with no activity
}

// DefaultMonitorConfig returns the stock monitor cadence.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SweepInterval:   60 * time.Second,
		RefreshInterval: 5 * time.Minute,
		ResponseTimeout: 60 * time.Minute,
	}
}

// EscalationMonitor is the deadline watchdog. Each sweep it walks the active
// requests and, in order of urgency:
//
//  1. escalates requests past their deadline (expiring those with no
//     escalation room left),
//  2. escalates in-progress requests whose assigned expert has gone quiet
//     past the response timeout,
//  3. re-attempts assignment for requests still waiting on capacity.
//
// A separate slower loop refreshes expert availability. When a Redis sweep
// lock is configured, only one replica sweeps at a time.
type EscalationMonitor struct {
	lifecycle *services.LifecycleManager
	registry  *services.ExpertRegistry
	store     *services.InterventionStore
	lock      *SweepLock
	cfg       MonitorConfig

	// Now is the clock used for deadline checks. Overridable in tests.
	Now func() time.Time
}

func NewEscalationMonitor(lifecycle *services.LifecycleManager, registry *services.ExpertRegistry, store *services.InterventionStore, lock *SweepLock, cfg MonitorConfig) *EscalationMonitor {
	return &EscalationMonitor{
		lifecycle: lifecycle,
		registry:  registry,
		store:     store,
		lock:      lock,
		cfg:       cfg,
		Now:       time.Now,
	}
}

// Run drives both loops until ctx is cancelled.
func (m *EscalationMonitor) Run(ctx context.Context) {
	log.Printf("Escalation monitor started (sweep every %v, refresh every %v)", m.cfg.SweepInterval, m.cfg.RefreshInterval)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.registry.RefreshAvailability(ctx)
			}
		}
	}()

	wg.Wait()
	log.Println("Escalation monitor stopped")
}

// Sweep runs one pass over the active requests. A failure on one request is
// logged and never blocks the rest of the sweep.
func (m *EscalationMonitor) Sweep(ctx context.Context) {
	if !m.lock.Acquire(ctx) {
		return
	}
	defer m.lock.Release(ctx)

	now := m.Now()
	for _, req := range m.store.Active() {
		if err := m.check(ctx, req, now); err != nil {
			log.Printf("Monitor: request %s: %v", req.ID, err)
		}
	}
}

func (m *EscalationMonitor) check(ctx context.Context, req db.InterventionRequest, now time.Time) error {
	switch {
	case now.After(req.Deadline) && (req.Status == db.StatusPending || req.Status == db.StatusInProgress):
		if _, ok := req.RequiredLevel.Next(); !ok {
			return m.lifecycle.Expire(ctx, req.ID, "deadline exceeded")
		}
		_, err := m.lifecycle.Escalate(ctx, req.ID, "deadline exceeded", "")
		return err

	case req.Status == db.StatusInProgress && now.Sub(req.UpdatedAt) > m.cfg.ResponseTimeout:
		_, err := m.lifecycle.Escalate(ctx, req.ID, "no response within timeout", "")
		return err

	case req.Status == db.StatusPending || req.Status == db.StatusEscalated:
		_, err := m.lifecycle.RetryAssignment(ctx, req.ID)
		return err
	}
	return nil
}
