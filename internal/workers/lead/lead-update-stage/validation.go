package leadupdatestage

import "crm-lead-workers/internal/common/validation"

// Enum values are checked by the model parsers, which accept any case.
func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"leadId", "stage", "performedBy"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"leadId": {
				Type:        "string",
				Description: "Lead to transition",
				MinLength:   validation.IntPtr(1),
			},
			"stage": {
				Type:        "string",
				Description: "Target stage; CONVERT or CONVERTED requests conversion",
				MinLength:   validation.IntPtr(1),
				MaxLength:   validation.IntPtr(32),
			},
			"status": {
				Type:        "string",
				Description: "Optional status; CONVERTED requests conversion",
				Nullable:    true,
				MaxLength:   validation.IntPtr(32),
			},
			"notes": {
				Type:        "string",
				Description: "Notes recorded on the lead and the stage change activity",
				Nullable:    true,
				MaxLength:   validation.IntPtr(5000),
			},
			"nextFollowUp": {
				Type:        "string",
				Description: "Next follow-up time, RFC 3339",
				Nullable:    true,
				Format:      "date-time",
			},
			"value": {
				Type:        "number",
				Description: "Deal value",
				Nullable:    true,
				Minimum:     validation.Float64Ptr(0),
			},
			"performedBy": {
				Type:        "string",
				Description: "Acting user id, or \"system\"",
				MinLength:   validation.IntPtr(1),
			},
		},
	}
}
