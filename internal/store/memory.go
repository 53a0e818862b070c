// In-memory Store implementation.
// Used for tests and single-node deployments. Supports file-based snapshot
// persistence so queues and templates survive restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents    map[string]*models.AgentConfig      `json:"agents"`
	Actions   map[string]*models.AgentAction      `json:"actions"`
	Templates map[string]*models.Template         `json:"templates"`
	Leads     map[string]*models.LeadIntelligence `json:"leads"` // key: tenant:lead_id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]*models.AgentConfig      // key: agent_id
	actions   map[string]*models.AgentAction      // key: action_id
	queues    map[string][]string                 // key: agent_id → action ids in enqueue order
	templates map[string]*models.Template         // key: template_id
	leads     map[string]*models.LeadIntelligence // key: tenant:lead_id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. When dataDir is non-empty the
// store loads data.json from it on start and writes debounced snapshots back.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		agents:    make(map[string]*models.AgentConfig),
		actions:   make(map[string]*models.AgentAction),
		queues:    make(map[string][]string),
		templates: make(map[string]*models.Template),
		leads:     make(map[string]*models.LeadIntelligence),
		saveCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-m.doneCh:
				return
			case <-time.After(500 * time.Millisecond):
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Agents:    m.agents,
		Actions:   m.actions,
		Templates: m.templates,
		Leads:     m.leads,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to replace snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Templates != nil {
		m.templates = snap.Templates
	}
	if snap.Leads != nil {
		m.leads = snap.Leads
	}
	if snap.Actions != nil {
		m.actions = snap.Actions
		// Rebuild queues in creation order.
		ordered := make([]*models.AgentAction, 0, len(snap.Actions))
		for _, a := range snap.Actions {
			ordered = append(ordered, a)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })
		for _, a := range ordered {
			// An attempt interrupted by a crash never reached its channel result.
			if a.Status == models.ActionInProgress {
				a.Status = models.ActionPending
				a.ExecutedAt = nil
			}
			m.queues[a.AgentID] = append(m.queues[a.AgentID], a.ID)
		}
	}

	log.Info().
		Int("agents", len(m.agents)).
		Int("actions", len(m.actions)).
		Int("templates", len(m.templates)).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			log.Info().Msg("Flushing final snapshot before shutdown...")
			m.saveSnapshot()
		}
		log.Info().Msg("Memory store closed")
	})
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func key(parts ...string) string {
	return strings.Join(parts, ":")
}

// ── Agent Repository ────────────────────────────────────────

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.AgentConfig) error {
	m.mu.Lock()
	m.agents[agent.AgentID] = agent.Clone()
	if _, ok := m.queues[agent.AgentID]; !ok {
		m.queues[agent.AgentID] = nil
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, agentID string) (*models.AgentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: agentID}
	}
	return a.Clone(), nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.AgentConfig) error {
	m.mu.Lock()
	if _, ok := m.agents[agent.AgentID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: agent.AgentID}
	}
	m.agents[agent.AgentID] = agent.Clone()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAgents(_ context.Context, tenantID string, activeOnly bool) ([]models.AgentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AgentConfig
	for _, a := range m.agents {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if activeOnly && !a.IsActive {
			continue
		}
		result = append(result, *a.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// ── Action Queue Repository ─────────────────────────────────

func (m *MemoryStore) EnqueueActions(_ context.Context, actions []*models.AgentAction) error {
	m.mu.Lock()
	for _, a := range actions {
		m.actions[a.ID] = a.Clone()
		m.queues[a.AgentID] = append(m.queues[a.AgentID], a.ID)
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// lookupAction must be called with m.mu held.
func (m *MemoryStore) lookupAction(agentID, actionID string) (*models.AgentAction, error) {
	a, ok := m.actions[actionID]
	if !ok || a.AgentID != agentID {
		return nil, &ErrNotFound{Entity: "action", Key: actionID}
	}
	return a, nil
}

func (m *MemoryStore) GetAction(_ context.Context, agentID, actionID string) (*models.AgentAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.lookupAction(agentID, actionID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ListActions(_ context.Context, agentID string, filter models.ActionFilter) ([]models.AgentAction, error) {
	m.mu.RLock()
	var result []models.AgentAction
	for _, id := range m.queues[agentID] {
		a := m.actions[id]
		if a == nil {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		result = append(result, *a.Clone())
	}
	m.mu.RUnlock()

	schedule.SortByPriority(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ClaimAction(_ context.Context, agentID, actionID string, now time.Time) (*models.AgentAction, error) {
	m.mu.Lock()
	a, err := m.lookupAction(agentID, actionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := transitionState(a.Status, models.ActionInProgress); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	at := now
	a.Status = models.ActionInProgress
	a.ExecutedAt = &at
	a.Attempts++
	a.UpdatedAt = now
	out := a.Clone()
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

func (m *MemoryStore) FinishAction(_ context.Context, action *models.AgentAction) error {
	if action.Status != models.ActionCompleted && action.Status != models.ActionFailed {
		return &models.ValidationError{Issues: []string{"finish requires completed or failed status, got " + string(action.Status)}}
	}
	m.mu.Lock()
	current, err := m.lookupAction(action.AgentID, action.ID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := transitionState(current.Status, action.Status); err != nil {
		m.mu.Unlock()
		return err
	}
	m.actions[action.ID] = action.Clone()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ReleaseAction(_ context.Context, agentID, actionID string, now time.Time) error {
	m.mu.Lock()
	a, err := m.lookupAction(agentID, actionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if schedule.CanTransition(a.Status, models.ActionPending) {
		a.Status = models.ActionPending
		a.ExecutedAt = nil
		a.UpdatedAt = now
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) CancelAction(_ context.Context, agentID, actionID, reason string, now time.Time) (*models.AgentAction, error) {
	m.mu.Lock()
	a, err := m.lookupAction(agentID, actionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := transitionState(a.Status, models.ActionCancelled); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	a.Status = models.ActionCancelled
	a.Error = reason
	a.UpdatedAt = now
	out := a.Clone()
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

func (m *MemoryStore) CountActions(_ context.Context, agentID string, status models.ActionStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, id := range m.queues[agentID] {
		if a := m.actions[id]; a != nil && (status == "" || a.Status == status) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PurgeActions(_ context.Context, agentID string, ids []string) (int, error) {
	drop := make(map[string]bool, len(ids))
	m.mu.Lock()
	for _, id := range ids {
		if a := m.actions[id]; a != nil && a.AgentID == agentID && a.Status.Terminal() {
			drop[id] = true
			delete(m.actions, id)
		}
	}
	if len(drop) > 0 {
		kept := m.queues[agentID][:0]
		for _, id := range m.queues[agentID] {
			if !drop[id] {
				kept = append(kept, id)
			}
		}
		m.queues[agentID] = kept
	}
	m.mu.Unlock()
	if len(drop) > 0 {
		m.requestSave()
	}
	return len(drop), nil
}

// ── Template Repository ─────────────────────────────────────

func (m *MemoryStore) CreateTemplate(_ context.Context, tmpl *models.Template) error {
	m.mu.Lock()
	cp := cloneTemplate(tmpl)
	m.templates[tmpl.ID] = cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "template", Key: id}
	}
	return cloneTemplate(t), nil
}

func (m *MemoryStore) UpdateTemplate(_ context.Context, tmpl *models.Template, expectedVersion int) error {
	m.mu.Lock()
	current, ok := m.templates[tmpl.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "template", Key: tmpl.ID}
	}
	if current.Version != expectedVersion {
		m.mu.Unlock()
		return models.ErrVersionConflict
	}
	cp := cloneTemplate(tmpl)
	cp.Version = expectedVersion + 1
	// Usage counters are owned by TouchTemplate.
	cp.UsageCount = current.UsageCount
	cp.LastUsedAt = current.LastUsedAt
	m.templates[tmpl.ID] = cp
	tmpl.Version = cp.Version
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTemplates(_ context.Context, tenantID string, filter models.TemplateFilter) ([]models.Template, error) {
	m.mu.RLock()
	var result []models.Template
	for _, t := range m.templates {
		if t.TenantID != tenantID || !matchTemplate(t, filter) {
			continue
		}
		result = append(result, *cloneTemplate(t))
	}
	m.mu.RUnlock()
	sortTemplates(result)
	return result, nil
}

func (m *MemoryStore) TouchTemplate(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	t, ok := m.templates[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "template", Key: id}
	}
	t.UsageCount++
	used := at
	t.LastUsedAt = &used
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func cloneTemplate(t *models.Template) *models.Template {
	cp := *t
	cp.Variables = append([]models.TemplateVariable(nil), t.Variables...)
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp
}

func matchTemplate(t *models.Template, filter models.TemplateFilter) bool {
	if filter.Category != "" && t.Category != filter.Category {
		return false
	}
	if filter.ActiveOnly && !t.IsActive {
		return false
	}
	if filter.Tag != "" {
		for _, tag := range t.Tags {
			if tag == filter.Tag {
				return true
			}
		}
		return false
	}
	return true
}

func sortTemplates(ts []models.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// ── Lead Repository ─────────────────────────────────────────

func (m *MemoryStore) SaveLead(_ context.Context, lead *models.LeadIntelligence) error {
	m.mu.Lock()
	cp := *lead
	m.leads[key(lead.TenantID, lead.LeadID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetLead(_ context.Context, tenantID, leadID string) (*models.LeadIntelligence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[key(tenantID, leadID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "lead", Key: leadID}
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) ListLeads(_ context.Context, tenantID string, filter models.LeadFilter) ([]models.LeadIntelligence, error) {
	m.mu.RLock()
	var result []models.LeadIntelligence
	for _, l := range m.leads {
		if l.TenantID == tenantID && filter.Match(l) {
			result = append(result, *l)
		}
	}
	m.mu.RUnlock()
	sortLeads(result)
	return result, nil
}

func sortLeads(leads []models.LeadIntelligence) {
	sort.SliceStable(leads, func(i, j int) bool {
		if leads[i].LeadScore != leads[j].LeadScore {
			return leads[i].LeadScore > leads[j].LeadScore
		}
		return leads[i].UpdatedAt.Before(leads[j].UpdatedAt)
	})
}
