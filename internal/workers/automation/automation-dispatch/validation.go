package automationdispatch

import "crm-lead-workers/internal/common/validation"

// GetInputSchema describes the lead event published as message variables.
func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"id", "leadId", "triggers"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"id": {
				Type:      "string",
				MinLength: validation.IntPtr(1),
			},
			"leadId": {
				Type:      "string",
				MinLength: validation.IntPtr(1),
			},
			"triggers": {
				Type:  "array",
				Items: &validation.Property{Type: "string"},
			},
			"stage": {
				Type:     "string",
				Nullable: true,
			},
			"leadEmail": {
				Type:     "string",
				Nullable: true,
			},
		},
	}
}
