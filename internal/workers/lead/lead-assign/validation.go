package leadassign

import "crm-lead-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"leadId", "performedBy"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"leadId": {
				Type:      "string",
				MinLength: validation.IntPtr(1),
			},
			"assignedToId": {
				Type:      "string",
				Nullable:  true,
				MinLength: validation.IntPtr(1),
			},
			"collegeId": {
				Type:      "string",
				Nullable:  true,
				MinLength: validation.IntPtr(1),
			},
			"priority": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(16),
			},
			"notes": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(5000),
			},
			"performedBy": {
				Type:      "string",
				MinLength: validation.IntPtr(1),
			},
		},
	}
}
