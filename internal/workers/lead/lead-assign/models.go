package leadassign

type Input struct {
	LeadID       string `json:"leadId"`
	AssignedToID string `json:"assignedToId,omitempty"`
	CollegeID    string `json:"collegeId,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Notes        string `json:"notes,omitempty"`
	PerformedBy  string `json:"performedBy"`
}

type Output struct {
	LeadID       string `json:"leadId"`
	AssignedToID string `json:"assignedToId,omitempty"`
	CollegeID    string `json:"collegeId,omitempty"`
	Priority     string `json:"priority"`
}

// Assignment lists the fields to change. Nil or empty fields are left alone,
// but at least one of AssignedToID, CollegeID and Priority must be set.
type Assignment struct {
	AssignedToID *string
	CollegeID    *string
	Priority     string
	Notes        string
}

func (a Assignment) empty() bool {
	return a.AssignedToID == nil && a.CollegeID == nil && a.Priority == ""
}
