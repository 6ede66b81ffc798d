// Package events carries post-commit lead events from the stage engine to
// the automation dispatcher.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"crm-lead-workers/internal/models"
)

// MessageName is the Zeebe message and AMQP type for lead events.
const MessageName = "lead-event"

// LeadEvent is a committed lead change. It carries enough lead context to
// render automation templates without another read.
type LeadEvent struct {
	ID             string               `json:"id"`
	LeadID         string               `json:"leadId"`
	Triggers       []models.TriggerType `json:"triggers"`
	Stage          models.Stage         `json:"stage"`
	PreviousStage  models.Stage         `json:"previousStage,omitempty"`
	Status         models.Status        `json:"status"`
	PreviousStatus models.Status        `json:"previousStatus,omitempty"`
	LeadName       string               `json:"leadName"`
	LeadEmail      string               `json:"leadEmail"`
	LeadPhone      string               `json:"leadPhone,omitempty"`
	Organization   string               `json:"organization,omitempty"`
	CollegeID      string               `json:"collegeId,omitempty"`
	OccurredAt     time.Time            `json:"occurredAt"`
}

// NewLeadEvent snapshots the committed lead.
func NewLeadEvent(id string, lead *models.Lead, previousStage models.Stage, previousStatus models.Status, triggers []models.TriggerType, at time.Time) LeadEvent {
	e := LeadEvent{
		ID:             id,
		LeadID:         lead.ID,
		Triggers:       triggers,
		Stage:          lead.Stage,
		PreviousStage:  previousStage,
		Status:         lead.Status,
		PreviousStatus: previousStatus,
		LeadName:       lead.Name,
		LeadEmail:      lead.Email,
		LeadPhone:      lead.Phone,
		Organization:   lead.Organization,
		OccurredAt:     at,
	}
	if lead.HasCollege() {
		e.CollegeID = *lead.CollegeID
	}
	return e
}

func (e LeadEvent) HasTrigger(t models.TriggerType) bool {
	for _, tr := range e.Triggers {
		if tr == t {
			return true
		}
	}
	return false
}

// Validate rejects events that cannot be dispatched.
func (e LeadEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.LeadID == "" {
		return fmt.Errorf("lead id is required")
	}
	if len(e.Triggers) == 0 {
		return fmt.Errorf("event %s has no triggers", e.ID)
	}
	return nil
}

// TemplateData returns the placeholder values available to automations.
func (e LeadEvent) TemplateData() map[string]interface{} {
	return map[string]interface{}{
		"leadId":         e.LeadID,
		"leadName":       e.LeadName,
		"leadEmail":      e.LeadEmail,
		"leadPhone":      e.LeadPhone,
		"organization":   e.Organization,
		"stage":          string(e.Stage),
		"previousStage":  string(e.PreviousStage),
		"status":         string(e.Status),
		"previousStatus": string(e.PreviousStatus),
		"collegeId":      e.CollegeID,
	}
}

// Decode parses and validates a serialized event.
func Decode(body []byte) (LeadEvent, error) {
	var e LeadEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return LeadEvent{}, fmt.Errorf("decode lead event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return LeadEvent{}, err
	}
	return e, nil
}

// FromVariables builds an event from Zeebe job variables.
func FromVariables(vars map[string]interface{}) (LeadEvent, error) {
	raw, err := json.Marshal(vars)
	if err != nil {
		return LeadEvent{}, fmt.Errorf("encode job variables: %w", err)
	}
	return Decode(raw)
}
