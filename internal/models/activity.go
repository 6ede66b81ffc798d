package models

import "time"

type ActivityType string

const (
	ActivityCreated     ActivityType = "CREATED"
	ActivityStageChange ActivityType = "STAGE_CHANGE"
	ActivityNote        ActivityType = "NOTE"
	ActivityAssignment  ActivityType = "ASSIGNMENT"
)

// LeadActivity is an append-only audit row owned by a lead.
type LeadActivity struct {
	ID          string       `json:"id"`
	LeadID      string       `json:"leadId"`
	Type        ActivityType `json:"type"`
	Description string       `json:"description"`
	Notes       string       `json:"notes,omitempty"`
	PerformedBy Performer    `json:"performedBy"`
	CreatedAt   time.Time    `json:"createdAt"`
}
