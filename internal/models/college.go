package models

import "time"

type CollegeStatus string

const (
	CollegeStatusProspective CollegeStatus = "PROSPECTIVE"
	CollegeStatusActive      CollegeStatus = "ACTIVE"
)

type College struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	ContactName    string        `json:"contactName,omitempty"`
	Email          string        `json:"email,omitempty"`
	Phone          string        `json:"phone,omitempty"`
	Status         CollegeStatus `json:"status"`
	AssignedToID   *string       `json:"assignedToId,omitempty"`
	LastTrainingAt *time.Time    `json:"lastTrainingAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// NewProspectiveCollege mirrors the lead's contact fields onto a new college.
// Assignment stays empty; it is handled by a separate manual workflow.
func NewProspectiveCollege(id string, lead *Lead, now time.Time) *College {
	return &College{
		ID:          id,
		Name:        lead.Organization,
		ContactName: lead.Name,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Status:      CollegeStatusProspective,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
