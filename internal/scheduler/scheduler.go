// Package scheduler drains agent action queues in the background.
//
// Every tick lists the active agents and drains each one concurrently, at
// most MaxParallelAgents at a time. An agent is never drained by two
// goroutines at once: DrainAgent holds a per-agent lock, so actions of one
// agent always execute in priority order while different agents proceed
// independently. Notify wakes the loop for one agent between ticks.
//
// Pending actions older than PendingMaxAge (when set) are cancelled with
// the reason "expired" before the agent is drained.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fleetflow/outreach/control-plane/internal/metrics"
	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// ExpiredReason is the error recorded on actions cancelled by age.
const ExpiredReason = "expired"

// Runner executes one action. *executor.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, agentID, actionID string) (*models.AgentAction, error)
}

type Config struct {
	TickInterval      time.Duration
	MaxParallelAgents int
	PendingMaxAge     time.Duration
}

// DrainReport summarizes one agent drain.
type DrainReport struct {
	AgentID  string                  `json:"agent_id"`
	Executed int                     `json:"executed"`
	Failed   int                     `json:"failed"`
	Deferred int                     `json:"deferred"`
	Expired  int                     `json:"expired"`
	Stopped  models.SchedulingReason `json:"stopped,omitempty"`
}

// TickReport summarizes one pass over all active agents.
type TickReport struct {
	Agents   int           `json:"agents"`
	Executed int           `json:"executed"`
	Failed   int           `json:"failed"`
	Deferred int           `json:"deferred"`
	Expired  int           `json:"expired"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type Scheduler struct {
	agents  store.AgentRepository
	actions store.ActionQueueRepository
	runner  Runner
	cfg     Config
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wake chan string
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(agents store.AgentRepository, actions store.ActionQueueRepository, runner Runner, cfg Config, opts ...Option) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxParallelAgents < 1 {
		cfg.MaxParallelAgents = 8
	}
	s := &Scheduler{
		agents:  agents,
		actions: actions,
		runner:  runner,
		cfg:     cfg,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		wake:    make(chan string, 64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the scheduler loop. It blocks until ctx is canceled and then
// waits for in-flight drains to finish.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.TickInterval).
		Int("max_parallel_agents", s.cfg.MaxParallelAgents).
		Dur("pending_max_age", s.cfg.PendingMaxAge).
		Msg("⏱️ Action scheduler started")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("Action scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		case agentID := <-s.wake:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.DrainAgent(ctx, agentID, ""); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Str("agent_id", agentID).Msg("Notified drain failed")
				}
			}()
		}
	}
}

// Notify asks the loop to drain agentID soon. It never blocks; if the wake
// queue is full the next tick picks the agent up.
func (s *Scheduler) Notify(agentID string) {
	select {
	case s.wake <- agentID:
	default:
	}
}

// Tick drains every active agent once.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	var report TickReport

	agents, err := s.agents.ListAgents(ctx, "", true)
	if err != nil {
		log.Warn().Err(err).Msg("Scheduler: failed to list agents")
		report.Errors++
		return report
	}
	report.Agents = len(agents)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxParallelAgents)
	for i := range agents {
		agentID := agents[i].AgentID
		g.Go(func() error {
			r, err := s.DrainAgent(ctx, agentID, "")
			mu.Lock()
			defer mu.Unlock()
			report.Executed += r.Executed
			report.Failed += r.Failed
			report.Deferred += r.Deferred
			report.Expired += r.Expired
			if err != nil {
				report.Errors++
				log.Warn().Err(err).Str("agent_id", agentID).Msg("Scheduler: drain failed")
			}
			// One agent's failure never stops the others.
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if report.Executed+report.Failed+report.Expired > 0 {
		log.Info().
			Int("agents", report.Agents).
			Int("executed", report.Executed).
			Int("failed", report.Failed).
			Int("deferred", report.Deferred).
			Int("expired", report.Expired).
			Dur("elapsed", report.Duration).
			Msg("Scheduler tick complete")
	}
	return report
}

func (s *Scheduler) agentLock(agentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

// DrainAgent executes agentID's ready pending actions in priority order.
// With minPriority set, only actions at that priority or more urgent are
// attempted. Draining stops for the whole agent outside business hours;
// actions scheduled for later are skipped.
func (s *Scheduler) DrainAgent(ctx context.Context, agentID string, minPriority models.Priority) (DrainReport, error) {
	report := DrainReport{AgentID: agentID}

	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return report, err
	}
	if !agent.IsActive {
		return report, nil
	}
	defer s.refreshDepth(ctx, agentID)

	pending, err := s.actions.ListActions(ctx, agentID, models.ActionFilter{Status: models.ActionPending})
	if err != nil {
		return report, err
	}

	now := s.now()
	ready := pending[:0]
	for i := range pending {
		a := &pending[i]
		if schedule.Expired(a, now, s.cfg.PendingMaxAge) {
			if _, err := s.actions.CancelAction(ctx, agentID, a.ID, ExpiredReason, now); err != nil {
				log.Warn().Err(err).Str("action_id", a.ID).Msg("Failed to expire action")
				continue
			}
			report.Expired++
			log.Info().Str("agent_id", agentID).Str("action_id", a.ID).Str("type", string(a.ActionType)).Msg("⌛ Action expired")
			continue
		}
		if minPriority != "" && a.Priority.Rank() > minPriority.Rank() {
			continue
		}
		ready = append(ready, *a)
	}

	if len(ready) > 0 && !schedule.IsWithinWindow(agent, now) {
		report.Deferred = len(ready)
		report.Stopped = models.ReasonOutsideBusinessHours
		metrics.SchedulingRejections.WithLabelValues(string(models.ReasonOutsideBusinessHours)).Inc()
		return report, nil
	}

	for i := range ready {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := s.runner.Execute(ctx, agentID, ready[i].ID)
		var se *models.SchedulingError
		switch {
		case err == nil:
			report.Executed++
		case errors.As(err, &se) && se.Reason == models.ReasonOutsideBusinessHours:
			// The window closed mid-drain.
			report.Deferred += len(ready) - i
			report.Stopped = se.Reason
			return report, nil
		case errors.As(err, &se):
			report.Deferred++
		case errors.Is(err, models.ErrAlreadyTerminal), errors.Is(err, models.ErrInFlight):
			// Finished or claimed through another path since the listing.
		case errors.Is(err, models.ErrAgentInactive):
			return report, nil
		default:
			report.Failed++
		}
	}
	return report, nil
}

// Execute runs one action outside the drain loop. It holds the agent's lock,
// so a manual execution never overlaps a drain of the same agent.
func (s *Scheduler) Execute(ctx context.Context, agentID, actionID string) (*models.AgentAction, error) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()
	defer s.refreshDepth(ctx, agentID)

	return s.runner.Execute(ctx, agentID, actionID)
}

func (s *Scheduler) refreshDepth(ctx context.Context, agentID string) {
	n, err := s.actions.CountActions(context.WithoutCancel(ctx), agentID, models.ActionPending)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues(agentID).Set(float64(n))
}

// Cancel moves a pending action to cancelled. In-flight and finished actions
// cannot be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, agentID, actionID string) (*models.AgentAction, error) {
	a, err := s.actions.CancelAction(ctx, agentID, actionID, "cancelled by operator", s.now())
	if err != nil {
		return nil, err
	}
	log.Info().Str("agent_id", agentID).Str("action_id", actionID).Msg("Action cancelled")
	s.refreshDepth(ctx, agentID)
	return a, nil
}
