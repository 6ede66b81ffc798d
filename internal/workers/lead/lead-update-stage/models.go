package leadupdatestage

import (
	"time"

	"crm-lead-workers/internal/models"
)

// Input is the job variable contract.
type Input struct {
	LeadID       string   `json:"leadId"`
	Stage        string   `json:"stage"`
	Status       string   `json:"status,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	NextFollowUp string   `json:"nextFollowUp,omitempty"` // RFC 3339
	Value        *float64 `json:"value,omitempty"`
	PerformedBy  string   `json:"performedBy"`
}

type Output struct {
	LeadID            string `json:"leadId"`
	Stage             string `json:"stage"`
	Status            string `json:"status"`
	CollegeID         string `json:"collegeId,omitempty"`
	CollegeCreated    bool   `json:"collegeCreated"`
	Converted         bool   `json:"converted"`
	ConversionWarning string `json:"conversionWarning,omitempty"`
}

// StageUpdate is a requested transition. Stage is required; the rest are
// applied only when set.
type StageUpdate struct {
	Stage        string
	Status       string
	Notes        string
	NextFollowUp *time.Time
	Value        *float64
}

// Result is the committed lead plus what the conversion did.
// ConversionWarning is never persisted.
type Result struct {
	Lead              *models.Lead
	College           *models.College
	CollegeCreated    bool
	CollegeActivated  bool
	Converted         bool
	ConversionWarning string
}
