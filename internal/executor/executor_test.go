package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/executor"
	"github.com/fleetflow/outreach/control-plane/internal/quota"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/internal/templates"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Monday 10:00 UTC, inside default business hours.
var monday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

// fakeChannels records every payload; respond overrides the default success.
type fakeChannels struct {
	mu      sync.Mutex
	n       map[models.ActionType]int
	emails  []contracts.EmailMessage
	calls   []contracts.CallRequest
	crm     []contracts.CRMRecord
	respond func(t models.ActionType, attempt int) (*contracts.DeliveryReceipt, error)
}

func (f *fakeChannels) hit(t models.ActionType) (*contracts.DeliveryReceipt, error) {
	f.mu.Lock()
	if f.n == nil {
		f.n = make(map[models.ActionType]int)
	}
	f.n[t]++
	attempt := f.n[t]
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(t, attempt)
	}
	return &contracts.DeliveryReceipt{Success: true, ID: uuid.NewString()}, nil
}

func (f *fakeChannels) count(t models.ActionType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n[t]
}

func (f *fakeChannels) SendEmail(_ context.Context, m *contracts.EmailMessage) (*contracts.DeliveryReceipt, error) {
	f.mu.Lock()
	f.emails = append(f.emails, *m)
	f.mu.Unlock()
	return f.hit(models.ActionEmail)
}

func (f *fakeChannels) PlaceCall(_ context.Context, r *contracts.CallRequest) (*contracts.DeliveryReceipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *r)
	f.mu.Unlock()
	return f.hit(models.ActionCall)
}

func (f *fakeChannels) PostSocial(context.Context, *contracts.SocialPost) (*contracts.DeliveryReceipt, error) {
	return f.hit(models.ActionSocialPost)
}

func (f *fakeChannels) SendText(context.Context, *contracts.TextMessage) (*contracts.DeliveryReceipt, error) {
	return f.hit(models.ActionTextMessage)
}

func (f *fakeChannels) UpdateCRM(_ context.Context, r *contracts.CRMRecord) (*contracts.DeliveryReceipt, error) {
	f.mu.Lock()
	f.crm = append(f.crm, *r)
	f.mu.Unlock()
	return f.hit(models.ActionCRMUpdate)
}

func (f *fakeChannels) Research(context.Context, *contracts.ResearchRequest) (*contracts.DeliveryReceipt, error) {
	return f.hit(models.ActionDataResearch)
}

type outcomeLog struct {
	mu  sync.Mutex
	ins []models.Interaction
}

func (o *outcomeLog) Record(_ context.Context, _, _ string, in models.Interaction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ins = append(o.ins, in)
	return nil
}

func (o *outcomeLog) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ins)
}

type fixture struct {
	store    store.Store
	engine   *templates.Engine
	channels *fakeChannels
	outcomes *outcomeLog
	exec     *executor.Executor
	agent    *models.AgentConfig
	now      time.Time
}

func newFixture(t *testing.T, cfg executor.Config) *fixture {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, channels: &fakeChannels{}, outcomes: &outcomeLog{}, now: monday}
	clock := func() time.Time { return f.now }
	f.engine = templates.NewEngine(s, templates.WithClock(clock))

	set := contracts.Channels{Email: f.channels, Call: f.channels, Social: f.channels, Text: f.channels, CRM: f.channels, Research: f.channels}
	f.exec = executor.New(s, s, f.engine, set, quota.NewMemoryCounter(), f.outcomes,
		executor.WithClock(clock), executor.WithConfig(cfg))

	f.agent = models.NewAgentConfig("t1", "agent-1", "contractor-1", monday)
	f.agent.Name = "Riley"
	require.NoError(t, s.CreateAgent(context.Background(), f.agent))
	return f
}

func (f *fixture) seedEmailTemplate(t *testing.T) *models.Template {
	t.Helper()
	tmpl, err := f.engine.Create(context.Background(), "t1", "u1", models.TemplateDraft{
		Name:     "Inquiry reply",
		Category: models.CategoryEmail,
		Content:  "Hi {{first_name}}, {{agent_name}} from {{company_name}} here.",
		Variables: []models.TemplateVariable{
			{Name: "first_name", Type: models.VarString, Required: true},
			{Name: "agent_name", Type: models.VarString},
			{Name: "company_name", Type: models.VarString, Required: true},
		},
	})
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) enqueue(t *testing.T, typ models.ActionType, prio models.Priority, mutate ...func(*models.AgentAction)) *models.AgentAction {
	t.Helper()
	a := &models.AgentAction{
		ID:         uuid.NewString(),
		TenantID:   "t1",
		AgentID:    f.agent.AgentID,
		ActionType: typ,
		TargetID:   "lead-1",
		Priority:   prio,
		Context: models.ActionContext{
			LeadData: &models.LeadIntelligence{
				LeadID: "lead-1", TenantID: "t1", Name: "Dana Ortiz", Company: "Ortiz Farms",
				Email: "dana@ortizfarms.com", Phone: "+15550100", LeadScore: 82, Urgency: models.UrgencyUrgent,
			},
			CompanyData: models.CompanyData{Name: "FleetFlow Logistics", Email: "ops@fleetflow.example", Phone: "+15550199"},
		},
		Status:    models.ActionPending,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, f.store.EnqueueActions(context.Background(), []*models.AgentAction{a}))
	return a
}

func TestEmailCompletesAndRecordsOutcome(t *testing.T) {
	f := newFixture(t, executor.Config{})
	tmpl := f.seedEmailTemplate(t)
	a := f.enqueue(t, models.ActionEmail, models.PriorityUrgent)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ActionCompleted, done.Status)
	require.NotNil(t, done.ResponseTime)
	require.NotNil(t, done.ExecutedAt)
	require.NotNil(t, done.Result)
	assert.Equal(t, "sent", done.Result.Outcome)
	assert.Equal(t, tmpl.ID, done.TemplateID)

	require.Len(t, f.channels.emails, 1)
	msg := f.channels.emails[0]
	assert.Equal(t, "dana@ortizfarms.com", msg.To)
	assert.Equal(t, "Re: Your freight inquiry - FleetFlow Logistics", msg.Subject)
	assert.Equal(t, "Hi Dana, Riley from FleetFlow Logistics here.", msg.Body)

	require.Equal(t, 1, f.outcomes.len())
	in := f.outcomes.ins[0]
	assert.Equal(t, "email", in.Type)
	assert.Equal(t, "sent", in.Outcome)
	assert.Equal(t, tmpl.ID, in.TemplateUsed)
	require.NotNil(t, in.Sentiment)
	assert.InDelta(t, 0.2, *in.Sentiment, 1e-9)

	stored, err := f.store.GetAction(context.Background(), f.agent.AgentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCompleted, stored.Status)
}

func TestEmailWithoutTemplatesFails(t *testing.T) {
	f := newFixture(t, executor.Config{})
	a := f.enqueue(t, models.ActionEmail, models.PriorityHigh)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrChannelFailure)
	assert.ErrorIs(t, err, executor.ErrNoEmailTemplates)
	assert.Equal(t, models.ActionFailed, done.Status)
	assert.Contains(t, done.Error, "no email templates available")
	assert.Zero(t, f.outcomes.len())
	assert.Zero(t, f.channels.count(models.ActionEmail))
}

func TestReexecutingTerminalActionIsRejected(t *testing.T) {
	f := newFixture(t, executor.Config{})
	a := f.enqueue(t, models.ActionCRMUpdate, models.PriorityLow)

	_, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	require.NoError(t, err)

	_, err = f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
	assert.Equal(t, 1, f.channels.count(models.ActionCRMUpdate))
	assert.Equal(t, 1, f.outcomes.len())
}

func TestGatingLeavesActionPending(t *testing.T) {
	t.Run("outside business hours", func(t *testing.T) {
		f := newFixture(t, executor.Config{})
		f.now = time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC) // Sunday
		a := f.enqueue(t, models.ActionCRMUpdate, models.PriorityLow)

		_, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
		var se *models.SchedulingError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, models.ReasonOutsideBusinessHours, se.Reason)
		assert.ErrorIs(t, err, models.ErrSchedulingRejected)

		stored, err := f.store.GetAction(context.Background(), f.agent.AgentID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ActionPending, stored.Status)
		assert.Nil(t, stored.ExecutedAt)
	})

	t.Run("scheduled for later", func(t *testing.T) {
		f := newFixture(t, executor.Config{})
		later := monday.Add(30 * time.Minute)
		a := f.enqueue(t, models.ActionCRMUpdate, models.PriorityLow, func(a *models.AgentAction) { a.ScheduledFor = &later })

		_, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
		var se *models.SchedulingError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, models.ReasonScheduledForLater, se.Reason)

		f.now = later
		done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ActionCompleted, done.Status)
	})
}

func TestCallQuota(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.agent.Settings.MaxDailyCalls = 1
	require.NoError(t, f.store.UpdateAgent(context.Background(), f.agent))

	first := f.enqueue(t, models.ActionCall, models.PriorityMedium)
	second := f.enqueue(t, models.ActionCall, models.PriorityMedium)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", done.Result.Outcome)
	require.Len(t, f.channels.calls, 1)
	assert.Contains(t, f.channels.calls[0].Script, "Hello Dana Ortiz, this is Riley. I'm following up on your freight inquiry...")

	done, err = f.exec.Execute(context.Background(), f.agent.AgentID, second.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	assert.Equal(t, models.ActionFailed, done.Status)
	assert.Contains(t, done.Error, "daily call limit reached")
	assert.Equal(t, 1, f.channels.count(models.ActionCall))
}

func TestFailedCallGivesQuotaSlotBack(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.agent.Settings.MaxDailyCalls = 1
	require.NoError(t, f.store.UpdateAgent(context.Background(), f.agent))

	fail := true
	f.channels.respond = func(models.ActionType, int) (*contracts.DeliveryReceipt, error) {
		if fail {
			return &contracts.DeliveryReceipt{Success: false, Error: "number disconnected"}, nil
		}
		return &contracts.DeliveryReceipt{Success: true, ID: "call-1"}, nil
	}
	first := f.enqueue(t, models.ActionCall, models.PriorityMedium)
	second := f.enqueue(t, models.ActionCall, models.PriorityMedium)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, first.ID)
	assert.ErrorIs(t, err, models.ErrChannelFailure)
	assert.Equal(t, models.ActionFailed, done.Status)

	fail = false
	done, err = f.exec.Execute(context.Background(), f.agent.AgentID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCompleted, done.Status)
	assert.Equal(t, 1, done.Result.Fields["calls_today"])
}

func TestTimedOutCallKeepsQuotaSlot(t *testing.T) {
	f := newFixture(t, executor.Config{ChannelTimeout: 10 * time.Millisecond})
	f.agent.Settings.MaxDailyCalls = 1
	require.NoError(t, f.store.UpdateAgent(context.Background(), f.agent))

	f.channels.respond = func(models.ActionType, int) (*contracts.DeliveryReceipt, error) {
		time.Sleep(100 * time.Millisecond)
		return &contracts.DeliveryReceipt{Success: true}, nil
	}
	first := f.enqueue(t, models.ActionCall, models.PriorityMedium)
	second := f.enqueue(t, models.ActionCall, models.PriorityMedium)

	_, err := f.exec.Execute(context.Background(), f.agent.AgentID, first.ID)
	assert.ErrorIs(t, err, models.ErrChannelFailure)

	_, err = f.exec.Execute(context.Background(), f.agent.AgentID, second.ID)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)
}

func TestChannelPanicIsChannelFailure(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.channels.respond = func(models.ActionType, int) (*contracts.DeliveryReceipt, error) { panic("provider SDK bug") }
	a := f.enqueue(t, models.ActionTextMessage, models.PriorityHigh)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	assert.ErrorIs(t, err, models.ErrChannelFailure)
	assert.Equal(t, models.ActionFailed, done.Status)
	assert.Contains(t, done.Error, "panic")
}

func TestChannelReportedFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, executor.Config{RetryMaxAttempts: 3, RetryInitial: time.Millisecond})
	f.channels.respond = func(models.ActionType, int) (*contracts.DeliveryReceipt, error) {
		return &contracts.DeliveryReceipt{Success: false, Error: "mailbox full"}, nil
	}
	f.seedEmailTemplate(t)
	a := f.enqueue(t, models.ActionEmail, models.PriorityHigh)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	assert.ErrorIs(t, err, models.ErrChannelFailure)
	assert.Equal(t, models.ActionFailed, done.Status)
	assert.Contains(t, done.Error, "mailbox full")
	assert.Equal(t, 1, f.channels.count(models.ActionEmail))
}

func TestTransportErrorsAreRetried(t *testing.T) {
	f := newFixture(t, executor.Config{RetryMaxAttempts: 3, RetryInitial: time.Millisecond})
	f.channels.respond = func(_ models.ActionType, attempt int) (*contracts.DeliveryReceipt, error) {
		if attempt < 3 {
			return nil, errors.New("connection reset")
		}
		return &contracts.DeliveryReceipt{Success: true, ID: "crm-7"}, nil
	}
	a := f.enqueue(t, models.ActionCRMUpdate, models.PriorityLow)

	done, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", done.Result.Outcome)
	assert.Equal(t, "crm-7", done.Result.ExternalID)
	assert.Equal(t, 3, f.channels.count(models.ActionCRMUpdate))
}

func TestDefaultPolicyDoesNotRetry(t *testing.T) {
	f := newFixture(t, executor.Config{})
	f.channels.respond = func(models.ActionType, int) (*contracts.DeliveryReceipt, error) {
		return nil, errors.New("connection reset")
	}
	a := f.enqueue(t, models.ActionDataResearch, models.PriorityLow)

	_, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	assert.ErrorIs(t, err, models.ErrChannelFailure)
	assert.Equal(t, 1, f.channels.count(models.ActionDataResearch))
}

func TestUnknownActionAndAgent(t *testing.T) {
	f := newFixture(t, executor.Config{})

	_, err := f.exec.Execute(context.Background(), "nope", "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.exec.Execute(context.Background(), f.agent.AgentID, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCRMRecordCarriesLeadScore(t *testing.T) {
	f := newFixture(t, executor.Config{})
	a := f.enqueue(t, models.ActionCRMUpdate, models.PriorityLow)

	_, err := f.exec.Execute(context.Background(), f.agent.AgentID, a.ID)
	require.NoError(t, err)
	require.Len(t, f.channels.crm, 1)
	assert.Equal(t, 82, f.channels.crm[0].LeadScore)
	assert.Equal(t, "lead-1", f.channels.crm[0].LeadID)
}
