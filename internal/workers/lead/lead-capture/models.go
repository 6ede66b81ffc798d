package leadcapture

// Input is a public form submission.
type Input struct {
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Source       string   `json:"source,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Value        *float64 `json:"value,omitempty"`
}

type Output struct {
	LeadID string `json:"leadId"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// NewLead is the captured contact. Only Name is required.
type NewLead struct {
	Name         string
	Email        string
	Phone        string
	Organization string
	Source       string
	Notes        string
	Value        *float64
}
