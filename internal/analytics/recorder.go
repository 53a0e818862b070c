// Package analytics records the outcome of completed actions and summarizes
// them per agent.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// DefaultCapacity is how many interactions each agent keeps.
const DefaultCapacity = 200

// SocialMedia is the analytics name for social_post interactions.
const SocialMedia = "social_media"

// Daily counters are kept in quarter-hour UTC buckets so any zone's calendar
// day is an exact union of buckets. Buckets older than tallyHorizon behind
// the newest one are dropped.
const (
	bucketWidth  = 15 * time.Minute
	tallyHorizon = 72 * time.Hour
)

// Recorder is an in-memory outcome recorder. Each agent's log is a ring of
// the most recent interactions; daily metrics come from separate counters
// that do not lose entries when the ring wraps.
type Recorder struct {
	mu       sync.RWMutex
	logs     map[string]*ring   // agentID → interactions
	tallies  map[string]*ledger // agentID → bucketed counters
	capacity int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		logs:     make(map[string]*ring),
		tallies:  make(map[string]*ledger),
		capacity: capacity,
	}
}

// Record implements contracts.OutcomeRecorder.
func (r *Recorder) Record(_ context.Context, tenantID, agentID string, in models.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.RecordedAt.IsZero() {
		in.RecordedAt = time.Now().UTC()
	}
	in.TenantID = tenantID
	in.AgentID = agentID
	if in.Type == string(models.ActionSocialPost) {
		in.Type = SocialMedia
	}

	r.mu.Lock()
	l, ok := r.logs[agentID]
	if !ok {
		l = newRing(r.capacity)
		r.logs[agentID] = l
	}
	l.push(in)
	tl, ok := r.tallies[agentID]
	if !ok {
		tl = newLedger()
		r.tallies[agentID] = tl
	}
	tl.add(tenantID, in)
	r.mu.Unlock()

	ev := log.Debug().Str("agent_id", agentID).Str("type", in.Type).Str("outcome", in.Outcome)
	if in.Sentiment != nil {
		ev = ev.Str("sentiment", SentimentLabel(*in.Sentiment))
	}
	ev.Msg("Interaction recorded")
	return nil
}

// RecentActivity returns up to n interactions for agentID, newest first.
func (r *Recorder) RecentActivity(agentID string, n int) []models.Interaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[agentID]
	if !ok {
		return []models.Interaction{}
	}
	return l.newest(n)
}

// DailyMetrics summarizes agentID's interactions on the calendar day of now,
// in now's location.
func (r *Recorder) DailyMetrics(tenantID, agentID string, now time.Time) *models.AgentMetrics {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	out := &models.AgentMetrics{
		TenantID:  tenantID,
		AgentID:   agentID,
		Timeframe: "day",
		Timestamp: now,
	}

	var sum tally
	r.mu.RLock()
	if tl, ok := r.tallies[agentID]; ok {
		sum = tl.between(tenantID, start, end)
	}
	r.mu.RUnlock()

	out.TotalInteractions = sum.total
	out.EmailsSent = sum.emails
	out.CallsMade = sum.calls
	out.SocialMediaPosts = sum.social
	out.TextMessagesSent = sum.texts
	out.CRMUpdates = sum.crm
	out.Research = sum.research
	if sum.total > 0 {
		out.AvgResponseTime = sum.respTotal / float64(sum.total)
	}
	if sum.sentN > 0 {
		out.SentimentScore = sum.sentTotal / float64(sum.sentN)
	}
	return out
}

// SentimentLabel buckets a -1..1 score.
func SentimentLabel(score float64) string {
	switch {
	case score > 0.1:
		return string(models.SentimentPositive)
	case score < -0.1:
		return string(models.SentimentNegative)
	}
	return string(models.SentimentNeutral)
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry.
type ring struct {
	buf  []models.Interaction
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Interaction, capacity)}
}

func (r *ring) push(in models.Interaction) {
	r.buf[r.next] = in
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newest returns up to n entries, newest first. n ≤ 0 returns all.
func (r *ring) newest(n int) []models.Interaction {
	size := r.len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.Interaction, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

type tally struct {
	total, emails, calls, social, texts, crm, research int
	respTotal, sentTotal                               float64
	sentN                                              int
}

func (t *tally) add(in models.Interaction) {
	t.total++
	switch in.Type {
	case string(models.ActionEmail):
		t.emails++
	case string(models.ActionCall):
		t.calls++
	case SocialMedia:
		t.social++
	case string(models.ActionTextMessage):
		t.texts++
	case string(models.ActionCRMUpdate):
		t.crm++
	case string(models.ActionDataResearch):
		t.research++
	}
	t.respTotal += in.ResponseTimeSeconds
	if in.Sentiment != nil {
		t.sentTotal += *in.Sentiment
		t.sentN++
	}
}

func (t *tally) merge(o *tally) {
	t.total += o.total
	t.emails += o.emails
	t.calls += o.calls
	t.social += o.social
	t.texts += o.texts
	t.crm += o.crm
	t.research += o.research
	t.respTotal += o.respTotal
	t.sentTotal += o.sentTotal
	t.sentN += o.sentN
}

type bucketKey struct {
	tenantID string
	start    int64 // unix seconds
}

// ledger holds one agent's counters by tenant and quarter-hour.
type ledger struct {
	buckets map[bucketKey]*tally
	newest  int64
}

func newLedger() *ledger {
	return &ledger{buckets: make(map[bucketKey]*tally)}
}

func (l *ledger) add(tenantID string, in models.Interaction) {
	start := in.RecordedAt.UTC().Truncate(bucketWidth).Unix()
	key := bucketKey{tenantID: tenantID, start: start}
	b, ok := l.buckets[key]
	if !ok {
		b = &tally{}
		l.buckets[key] = b
		if start > l.newest {
			l.newest = start
			l.prune()
		}
	}
	b.add(in)
}

func (l *ledger) prune() {
	cutoff := l.newest - int64(tallyHorizon/time.Second)
	for k := range l.buckets {
		if k.start < cutoff {
			delete(l.buckets, k)
		}
	}
}

// between sums tenantID's buckets starting in [start, end).
func (l *ledger) between(tenantID string, start, end time.Time) tally {
	var sum tally
	from, to := start.Unix(), end.Unix()
	for k, b := range l.buckets {
		if k.tenantID == tenantID && k.start >= from && k.start < to {
			sum.merge(b)
		}
	}
	return sum
}
