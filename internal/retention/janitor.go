// Package retention trims finished actions out of the agent queues. On each
// cycle the janitor collects completed, failed and cancelled actions older
// than the retention window, hands them to an archiver, and deletes them from
// the store.
//
// Modes:
//   - archive-and-purge: archive first, delete only what was archived (default)
//   - purge-only:        delete without archiving
//
// Archive failures are fail-safe: nothing is deleted for an agent whose batch
// could not be archived.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Mode selects what the janitor does with expired actions.
type Mode string

const (
	ModeArchiveAndPurge Mode = "archive-and-purge"
	ModePurgeOnly       Mode = "purge-only"
)

// DefaultBatchSize is the max actions per archive write.
const DefaultBatchSize = 5000

// Archiver persists finished actions somewhere outside the hot store.
type Archiver interface {
	Kind() string
	// ArchiveActions writes one batch and returns where it went.
	ArchiveActions(ctx context.Context, tenantID, agentID string, actions []models.AgentAction) (string, error)
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
	Mode      Mode
	BatchSize int
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Agents   int
	Archived int
	Purged   int
	Files    []string
	Errors   []error
}

// Janitor periodically archives and purges finished actions.
type Janitor struct {
	agents   store.AgentRepository
	actions  store.ActionQueueRepository
	archiver Archiver
	cfg      Config
	now      func() time.Time
}

type Option func(*Janitor)

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a janitor. A nil archiver forces purge-only mode.
func NewJanitor(agents store.AgentRepository, actions store.ActionQueueRepository, archiver Archiver, cfg Config, opts ...Option) *Janitor {
	if cfg.Interval < time.Minute {
		cfg.Interval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeArchiveAndPurge
	}
	if archiver == nil {
		cfg.Mode = ModePurgeOnly
	}
	j := &Janitor{agents: agents, actions: actions, archiver: archiver, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Start runs a cycle immediately and then on every interval. It blocks until
// ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	kind := "none"
	if j.archiver != nil {
		kind = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.cfg.Interval).
		Dur("retention", j.cfg.Retention).
		Str("mode", string(j.cfg.Mode)).
		Str("archiver", kind).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one pass over every agent.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	agents, err := j.agents.ListAgents(ctx, "", false)
	if err != nil {
		log.Error().Err(err).Msg("Retention: failed to list agents")
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	cutoff := j.now().Add(-j.cfg.Retention)
	for _, agent := range agents {
		if ctx.Err() != nil {
			break
		}
		stats.Agents++
		j.cleanAgent(ctx, &agent, cutoff, &stats)
	}

	if stats.Purged > 0 || stats.Archived > 0 || len(stats.Errors) > 0 {
		log.Info().
			Int("agents", stats.Agents).
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Int("errors", len(stats.Errors)).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) cleanAgent(ctx context.Context, agent *models.AgentConfig, cutoff time.Time, stats *CycleStats) {
	all, err := j.actions.ListActions(ctx, agent.AgentID, models.ActionFilter{})
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agent.AgentID).Msg("Retention: failed to list actions")
		stats.Errors = append(stats.Errors, err)
		return
	}
	var expired []models.AgentAction
	for _, a := range all {
		if a.Status.Terminal() && finishedAt(&a).Before(cutoff) {
			expired = append(expired, a)
		}
	}

	for start := 0; start < len(expired); start += j.cfg.BatchSize {
		end := min(start+j.cfg.BatchSize, len(expired))
		batch := expired[start:end]

		if j.cfg.Mode == ModeArchiveAndPurge {
			path, err := j.archiver.ArchiveActions(ctx, agent.TenantID, agent.AgentID, batch)
			if err != nil {
				log.Error().Err(err).Str("agent_id", agent.AgentID).Int("count", len(batch)).
					Msg("Retention: archive failed, keeping actions")
				stats.Errors = append(stats.Errors, err)
				return
			}
			stats.Archived += len(batch)
			stats.Files = append(stats.Files, path)
		}

		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		n, err := j.actions.PurgeActions(ctx, agent.AgentID, ids)
		if err != nil {
			log.Error().Err(err).Str("agent_id", agent.AgentID).Msg("Retention: purge failed")
			stats.Errors = append(stats.Errors, err)
			return
		}
		stats.Purged += n
	}
}

// finishedAt is when an action reached its terminal state.
func finishedAt(a *models.AgentAction) time.Time {
	if a.CompletedAt != nil {
		return *a.CompletedAt
	}
	if !a.UpdatedAt.IsZero() {
		return a.UpdatedAt
	}
	return a.CreatedAt
}
