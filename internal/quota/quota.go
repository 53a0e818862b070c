// Package quota tracks per-agent daily call counts.
//
// Both counters implement contracts.CallCounter. The check and the increment
// happen as one step, so two concurrent calls for the same agent can never
// both take the last slot.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// dayKey buckets t by its calendar date in t's own location. Callers pass
// the agent's local time.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MemoryCounter keeps counts in process. Buckets for past days are dropped
// lazily whenever an agent rolls over to a new day.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]map[string]int // agentID → day → count
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]map[string]int)}
}

func (c *MemoryCounter) TryIncrement(_ context.Context, agentID string, day time.Time, max int) (int, error) {
	k := dayKey(day)

	c.mu.Lock()
	defer c.mu.Unlock()

	days, ok := c.counts[agentID]
	if !ok {
		days = make(map[string]int, 1)
		c.counts[agentID] = days
	}
	if _, ok := days[k]; !ok {
		for old := range days {
			delete(days, old)
		}
	}
	if days[k] >= max {
		return days[k], models.ErrQuotaExceeded
	}
	days[k]++
	return days[k], nil
}

func (c *MemoryCounter) Count(_ context.Context, agentID string, day time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[agentID][dayKey(day)], nil
}

func (c *MemoryCounter) Release(_ context.Context, agentID string, day time.Time) error {
	k := dayKey(day)
	c.mu.Lock()
	defer c.mu.Unlock()
	if days := c.counts[agentID]; days[k] > 0 {
		days[k]--
	}
	return nil
}
