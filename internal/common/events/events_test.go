package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []LeadEvent
	err    error
	panics bool
	ctxOK  bool
}

func (r *recordingPublisher) Publish(ctx context.Context, e LeadEvent) error {
	if r.panics {
		panic("broker exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.ctxOK = ctx.Deadline()
	r.events = append(r.events, e)
	return r.err
}

type fakeChannel struct {
	messageType string
	messageID   string
	body        []byte
	err         error
}

func (f *fakeChannel) Publish(_ context.Context, messageType, messageID string, body []byte) error {
	f.messageType, f.messageID, f.body = messageType, messageID, body
	return f.err
}

type fakeZeebe struct {
	name, correlationKey, messageID string
	ttl                             time.Duration
	vars                            interface{}
}

func (f *fakeZeebe) PublishMessage(_ context.Context, name, correlationKey, messageID string, ttl time.Duration, variables interface{}) error {
	f.name, f.correlationKey, f.messageID, f.ttl, f.vars = name, correlationKey, messageID, ttl, variables
	return nil
}

type handlerFunc func(ctx context.Context, e LeadEvent) error

func (f handlerFunc) Dispatch(ctx context.Context, e LeadEvent) error { return f(ctx, e) }

func sampleEvent() LeadEvent {
	college := "c-1"
	lead := &models.Lead{
		ID:           "lead-1",
		Name:         "Asha",
		Email:        "asha@example.com",
		Organization: "Green Valley College",
		Stage:        models.StageConverted,
		Status:       models.StatusConverted,
		CollegeID:    &college,
	}
	return NewLeadEvent("evt-1", lead, models.StageProposal, models.StatusInProgress,
		[]models.TriggerType{models.TriggerStageChanged, models.TriggerStatusChanged, models.TriggerConverted},
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

// ==========================
// Event
// ==========================

func TestNewLeadEvent_CopiesLeadContext(t *testing.T) {
	e := sampleEvent()

	assert.Equal(t, "lead-1", e.LeadID)
	assert.Equal(t, "c-1", e.CollegeID)
	assert.Equal(t, models.StageProposal, e.PreviousStage)
	assert.True(t, e.HasTrigger(models.TriggerConverted))
	assert.False(t, e.HasTrigger(models.TriggerLeadCreated))

	data := e.TemplateData()
	assert.Equal(t, "Asha", data["leadName"])
	assert.Equal(t, "CONVERTED", data["stage"])
	assert.Equal(t, "PROPOSAL", data["previousStage"])
}

func TestDecode(t *testing.T) {
	body, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	e, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, sampleEvent().Triggers, e.Triggers)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"id":`},
		{"missing id", `{"leadId":"l","triggers":["CONVERTED"]}`},
		{"missing lead", `{"id":"e","triggers":["CONVERTED"]}`},
		{"no triggers", `{"id":"e","leadId":"l"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestFromVariables(t *testing.T) {
	e, err := FromVariables(map[string]interface{}{
		"id":       "evt-9",
		"leadId":   "lead-9",
		"triggers": []interface{}{"LEAD_CREATED"},
		"stage":    "NEW",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageNew, e.Stage)
	assert.True(t, e.HasTrigger(models.TriggerLeadCreated))
}

// ==========================
// AsyncPublisher
// ==========================

func TestAsyncPublisher_DeliversWithOwnDeadline(t *testing.T) {
	next := &recordingPublisher{}
	p := NewAsyncPublisher(next, "inline", time.Second, logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Publish(ctx, sampleEvent()))
	p.Wait()

	require.Len(t, next.events, 1)
	assert.True(t, next.ctxOK)
}

func TestAsyncPublisher_SwallowsFailures(t *testing.T) {
	next := &recordingPublisher{err: errors.New("broker down")}
	p := NewAsyncPublisher(next, "amqp", time.Second, logger.NewNoOpLogger())

	assert.NoError(t, p.Publish(context.Background(), sampleEvent()))
	p.Wait()
	assert.Len(t, next.events, 1)
}

func TestAsyncPublisher_RecoversPanics(t *testing.T) {
	p := NewAsyncPublisher(&recordingPublisher{panics: true}, "amqp", time.Second, logger.NewNoOpLogger())

	assert.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.NotPanics(t, p.Wait)
}

// ==========================
// Transports
// ==========================

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, NewAMQPPublisher(ch).Publish(context.Background(), sampleEvent()))

	assert.Equal(t, MessageName, ch.messageType)
	assert.Equal(t, "evt-1", ch.messageID)
	decoded, err := Decode(ch.body)
	require.NoError(t, err)
	assert.Equal(t, "lead-1", decoded.LeadID)

	ch.err = errors.New("channel closed")
	err = NewAMQPPublisher(ch).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "EVENT_PUBLISH_FAILED")
}

func TestZeebePublisher(t *testing.T) {
	zb := &fakeZeebe{}
	require.NoError(t, NewZeebePublisher(zb, time.Minute).Publish(context.Background(), sampleEvent()))

	assert.Equal(t, MessageName, zb.name)
	assert.Equal(t, "lead-1", zb.correlationKey)
	assert.Equal(t, "evt-1", zb.messageID)
	assert.Equal(t, time.Minute, zb.ttl)
	assert.IsType(t, LeadEvent{}, zb.vars)
}

func TestInlinePublisher(t *testing.T) {
	var got LeadEvent
	p := NewInlinePublisher(handlerFunc(func(_ context.Context, e LeadEvent) error {
		got = e
		return nil
	}))

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "evt-1", got.ID)
}
