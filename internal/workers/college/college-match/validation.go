package collegematch

import "crm-lead-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"organization"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"organization": {
				Type:        "string",
				Description: "Organization name to match; blank matches nothing",
				MaxLength:   validation.IntPtr(300),
			},
		},
	}
}
