package models

import (
	"fmt"
	"strings"
	"time"
)

type Stage string

const (
	StageNew         Stage = "NEW"
	StageContacted   Stage = "CONTACTED"
	StageQualified   Stage = "QUALIFIED"
	StageProposal    Stage = "PROPOSAL"
	StageNegotiation Stage = "NEGOTIATION"
	StageConverted   Stage = "CONVERTED"
	StageLost        Stage = "LOST"

	// StageConvert is an input-only alias that requests conversion. It is
	// never persisted; the engine rewrites it to StageConverted.
	StageConvert Stage = "CONVERT"
)

var validStages = map[Stage]bool{
	StageNew:         true,
	StageContacted:   true,
	StageQualified:   true,
	StageProposal:    true,
	StageNegotiation: true,
	StageConverted:   true,
	StageLost:        true,
	StageConvert:     true,
}

// ParseStage accepts any case and surrounding whitespace.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if !validStages[stage] {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}

// IsConversionMarker reports whether the stage value requests conversion.
func (s Stage) IsConversionMarker() bool {
	return s == StageConvert || s == StageConverted
}

type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusConverted  Status = "CONVERTED"
	StatusLost       Status = "LOST"
)

func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusNew, StatusInProgress, StatusOnHold, StatusConverted, StatusLost:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type Lead struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Organization  string     `json:"organization,omitempty"`
	Source        string     `json:"source,omitempty"`
	Stage         Stage      `json:"stage"`
	Status        Status     `json:"status"`
	Priority      Priority   `json:"priority"`
	AssignedToID  *string    `json:"assignedToId,omitempty"`
	CollegeID     *string    `json:"collegeId,omitempty"`
	Value         *float64   `json:"value,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	NextFollowUp  *time.Time `json:"nextFollowUp,omitempty"`
	LastContactAt *time.Time `json:"lastContactAt,omitempty"`
	ConvertedAt   *time.Time `json:"convertedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasCollege reports whether the lead is already linked to a college.
func (l *Lead) HasCollege() bool {
	return l.CollegeID != nil && *l.CollegeID != ""
}

func (l *Lead) HasEmail() bool {
	return strings.TrimSpace(l.Email) != ""
}

// Clone returns a deep copy so callers can mutate pointer fields freely.
func (l *Lead) Clone() *Lead {
	c := *l
	c.AssignedToID = cloneString(l.AssignedToID)
	c.CollegeID = cloneString(l.CollegeID)
	if l.Value != nil {
		v := *l.Value
		c.Value = &v
	}
	c.NextFollowUp = cloneTime(l.NextFollowUp)
	c.LastContactAt = cloneTime(l.LastContactAt)
	c.ConvertedAt = cloneTime(l.ConvertedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
