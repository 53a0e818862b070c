package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/internal/scheduler"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var (
	monday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	sunday = time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
)

// runner completes actions straight through the store, recording the order
// and the peak number of concurrent executions per agent.
type runner struct {
	store store.Store
	now   func() time.Time
	delay time.Duration

	mu       sync.Mutex
	order    map[string][]string
	inFlight map[string]int
	peak     map[string]int
}

func newRunner(s store.Store, now func() time.Time) *runner {
	return &runner{store: s, now: now, order: map[string][]string{}, inFlight: map[string]int{}, peak: map[string]int{}}
}

func (r *runner) Execute(ctx context.Context, agentID, actionID string) (*models.AgentAction, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	action, err := r.store.GetAction(ctx, agentID, actionID)
	if err != nil {
		return nil, err
	}
	if err := schedule.Gate(agent, action, r.now()); err != nil {
		return action, err
	}
	claimed, err := r.store.ClaimAction(ctx, agentID, actionID, r.now())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.inFlight[agentID]++
	if r.inFlight[agentID] > r.peak[agentID] {
		r.peak[agentID] = r.inFlight[agentID]
	}
	r.order[agentID] = append(r.order[agentID], actionID)
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.inFlight[agentID]--
	r.mu.Unlock()

	claimed.Status = models.ActionCompleted
	claimed.Result = &models.ActionResult{Outcome: "ok"}
	return claimed, r.store.FinishAction(ctx, claimed)
}

func (r *runner) executed(agentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order[agentID]...)
}

type harness struct {
	store  store.Store
	runner *runner
	sched  *scheduler.Scheduler
	now    time.Time
	seq    int
}

func newHarness(t *testing.T, cfg scheduler.Config) *harness {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	h := &harness{store: s, now: monday}
	clock := func() time.Time { return h.now }
	h.runner = newRunner(s, clock)
	h.sched = scheduler.New(s, s, h.runner, cfg, scheduler.WithClock(clock))
	return h
}

func (h *harness) agent(t *testing.T, id string) *models.AgentConfig {
	t.Helper()
	a := models.NewAgentConfig("t1", id, "c-"+id, monday)
	require.NoError(t, h.store.CreateAgent(context.Background(), a))
	return a
}

func (h *harness) enqueue(t *testing.T, agentID string, prio models.Priority, mutate ...func(*models.AgentAction)) string {
	t.Helper()
	h.seq++
	a := &models.AgentAction{
		ID:         fmt.Sprintf("%s-%02d-%s", agentID, h.seq, prio),
		TenantID:   "t1",
		AgentID:    agentID,
		ActionType: models.ActionCRMUpdate,
		Priority:   prio,
		Status:     models.ActionPending,
		CreatedAt:  h.now.Add(time.Duration(h.seq) * time.Millisecond),
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, h.store.EnqueueActions(context.Background(), []*models.AgentAction{a}))
	return a.ID
}

func TestDrainFollowsPriorityOrder(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.agent(t, "a1")
	low := h.enqueue(t, "a1", models.PriorityLow)
	urgent := h.enqueue(t, "a1", models.PriorityUrgent)
	high := h.enqueue(t, "a1", models.PriorityHigh)
	high2 := h.enqueue(t, "a1", models.PriorityHigh)

	r, err := h.sched.DrainAgent(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, 4, r.Executed)
	assert.Equal(t, []string{urgent, high, high2, low}, h.runner.executed("a1"))
}

func TestDrainMinPriority(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.agent(t, "a1")
	low := h.enqueue(t, "a1", models.PriorityLow)
	urgent := h.enqueue(t, "a1", models.PriorityUrgent)
	high := h.enqueue(t, "a1", models.PriorityHigh)

	_, err := h.sched.DrainAgent(context.Background(), "a1", models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, []string{urgent, high}, h.runner.executed("a1"))

	stored, err := h.store.GetAction(context.Background(), "a1", low)
	require.NoError(t, err)
	assert.Equal(t, models.ActionPending, stored.Status)
}

func TestDrainStopsOutsideBusinessHours(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.now = sunday
	h.agent(t, "a1")
	h.enqueue(t, "a1", models.PriorityUrgent)
	h.enqueue(t, "a1", models.PriorityLow)

	r, err := h.sched.DrainAgent(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Zero(t, r.Executed)
	assert.Equal(t, 2, r.Deferred)
	assert.Equal(t, models.ReasonOutsideBusinessHours, r.Stopped)
	assert.Empty(t, h.runner.executed("a1"))

	n, err := h.store.CountActions(context.Background(), "a1", models.ActionPending)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Monday morning the same queue drains.
	h.now = monday
	r, err = h.sched.DrainAgent(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Executed)
}

func TestDrainSkipsScheduledForLater(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.agent(t, "a1")
	later := monday.Add(30 * time.Minute)
	call := h.enqueue(t, "a1", models.PriorityMedium, func(a *models.AgentAction) { a.ScheduledFor = &later })
	crm := h.enqueue(t, "a1", models.PriorityLow)

	r, err := h.sched.DrainAgent(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Executed)
	assert.Equal(t, 1, r.Deferred)
	assert.Equal(t, []string{crm}, h.runner.executed("a1"))

	h.now = later
	r, err = h.sched.DrainAgent(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Executed)
	assert.Equal(t, []string{crm, call}, h.runner.executed("a1"))
}

func TestTickExpiresStaleActions(t *testing.T) {
	h := newHarness(t, scheduler.Config{PendingMaxAge: time.Hour})
	h.agent(t, "a1")
	stale := h.enqueue(t, "a1", models.PriorityLow)

	h.now = sunday.AddDate(0, 0, 7) // a week later, outside business hours
	report := h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Expired)

	a, err := h.store.GetAction(context.Background(), "a1", stale)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCancelled, a.Status)
	assert.Equal(t, scheduler.ExpiredReason, a.Error)
}

func TestTickDrainsAgentsIndependently(t *testing.T) {
	h := newHarness(t, scheduler.Config{MaxParallelAgents: 4})
	h.runner.delay = 5 * time.Millisecond
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("a%d", i)
		h.agent(t, id)
		for j := 0; j < 3; j++ {
			h.enqueue(t, id, models.PriorityMedium)
		}
	}
	inactive := h.agent(t, "idle")
	inactive.IsActive = false
	require.NoError(t, h.store.UpdateAgent(context.Background(), inactive))
	h.enqueue(t, "idle", models.PriorityUrgent)

	report := h.sched.Tick(context.Background())
	assert.Equal(t, 4, report.Agents)
	assert.Equal(t, 12, report.Executed)
	assert.Zero(t, report.Errors)
	assert.Empty(t, h.runner.executed("idle"))
}

func TestConcurrentDrainsOfOneAgentSerialize(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.runner.delay = 2 * time.Millisecond
	h.agent(t, "a1")
	for i := 0; i < 10; i++ {
		h.enqueue(t, "a1", models.PriorityHigh)
	}

	var executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.sched.DrainAgent(context.Background(), "a1", "")
			assert.NoError(t, err)
			executed.Add(int32(r.Executed))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), executed.Load())
	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	assert.Equal(t, 1, h.runner.peak["a1"])
}

func TestManualExecuteWaitsForDrain(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.runner.delay = 2 * time.Millisecond
	h.agent(t, "a1")
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, h.enqueue(t, "a1", models.PriorityHigh))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.sched.DrainAgent(context.Background(), "a1", "")
		assert.NoError(t, err)
	}()
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.sched.Execute(context.Background(), "a1", id)
			if err != nil {
				assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
			}
		}(id)
	}
	wg.Wait()

	n, err := h.store.CountActions(context.Background(), "a1", models.ActionCompleted)
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)
	assert.Len(t, h.runner.executed("a1"), len(ids))

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	assert.Equal(t, 1, h.runner.peak["a1"])
}

func TestCancelOnlyPending(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.agent(t, "a1")
	id := h.enqueue(t, "a1", models.PriorityLow)

	a, err := h.sched.Cancel(context.Background(), "a1", id)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCancelled, a.Status)

	_, err = h.sched.Cancel(context.Background(), "a1", id)
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t, scheduler.Config{TickInterval: time.Hour})
	h.agent(t, "a1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sched.Start(ctx)
		close(done)
	}()

	id := h.enqueue(t, "a1", models.PriorityLow)
	h.sched.Notify("a1")
	require.Eventually(t, func() bool {
		a, err := h.store.GetAction(context.Background(), "a1", id)
		return err == nil && a.Status == models.ActionCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
