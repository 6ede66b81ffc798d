package models

type TriggerType string

const (
	TriggerLeadCreated   TriggerType = "LEAD_CREATED"
	TriggerStageChanged  TriggerType = "STAGE_CHANGED"
	TriggerStatusChanged TriggerType = "STATUS_CHANGED"
	TriggerConverted     TriggerType = "CONVERTED"
)

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Automation is a registered side effect fired after a lead event.
type Automation struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	TriggerType  TriggerType `json:"triggerType"`
	Channel      Channel     `json:"channel"`
	TemplateName string      `json:"templateName,omitempty"`
	Subject      string      `json:"subject,omitempty"`
	Body         string      `json:"body"`
	StageFilter  *Stage      `json:"stageFilter,omitempty"`
	Active       bool        `json:"active"`
}

// AppliesTo reports whether the automation's stage filter admits the stage.
func (a Automation) AppliesTo(stage Stage) bool {
	return a.StageFilter == nil || *a.StageFilter == stage
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}
