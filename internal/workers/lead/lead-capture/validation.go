package leadcapture

import "crm-lead-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"name"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"name": {
				Type:        "string",
				Description: "Contact name",
				MinLength:   validation.IntPtr(1),
				MaxLength:   validation.IntPtr(200),
			},
			// format is checked by the service so that "" means absent
			"email": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(254),
			},
			"phone": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(32),
			},
			"organization": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(300),
			},
			"source": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(64),
			},
			"notes": {
				Type:      "string",
				Nullable:  true,
				MaxLength: validation.IntPtr(5000),
			},
			"value": {
				Type:     "number",
				Nullable: true,
				Minimum:  validation.Float64Ptr(0),
			},
		},
	}
}
