package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema defines the structure for input/output schemas
type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Nullable    bool                `json:"-"` // accept an explicit null alongside Type
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Pattern     *string             `json:"pattern,omitempty"`
	MinLength   *int                `json:"minLength,omitempty"`
	MaxLength   *int                `json:"maxLength,omitempty"`
	Format      string              `json:"format,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateInput validates job variables against the schema using gojsonschema.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.ToMap()),
		gojsonschema.NewGoLoader(input),
	)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(schema)",
				Message: err.Error(),
				Code:    "SCHEMA_ERROR",
			}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fieldName(e),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	return out
}

// fieldName resolves the offending property for object-level errors,
// which gojsonschema reports against the parent.
func fieldName(e gojsonschema.ResultError) string {
	field := e.Field()
	switch e.Type() {
	case "required", "additional_property_not_allowed":
		if p, ok := e.Details()["property"].(string); ok {
			if field == "(root)" {
				return p
			}
			return field + "." + p
		}
	}
	return field
}

// ToMap renders the schema as a JSON Schema document.
func (s JSONSchema) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"type":                 s.Type,
		"properties":           propertiesToMap(s.Properties),
		"additionalProperties": s.AdditionalProperties,
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

func propertiesToMap(props map[string]Property) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for name, p := range props {
		out[name] = p.toMap()
	}
	return out
}

func (p Property) toMap() map[string]interface{} {
	m := map[string]interface{}{}
	if p.Type != "" {
		if p.Nullable {
			m["type"] = []string{p.Type, "null"}
		} else {
			m["type"] = p.Type
		}
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.Minimum != nil {
		m["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		m["maximum"] = *p.Maximum
	}
	if len(p.Enum) > 0 {
		enum := make([]interface{}, 0, len(p.Enum)+1)
		for _, v := range p.Enum {
			enum = append(enum, v)
		}
		if p.Nullable {
			enum = append(enum, nil)
		}
		m["enum"] = enum
	}
	if p.Pattern != nil {
		m["pattern"] = *p.Pattern
	}
	if p.MinLength != nil {
		m["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		m["maxLength"] = *p.MaxLength
	}
	if p.Format != "" {
		m["format"] = p.Format
	}
	if p.Items != nil {
		m["items"] = p.Items.toMap()
	}
	if len(p.Properties) > 0 {
		m["properties"] = propertiesToMap(p.Properties)
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	return m
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{7,}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// IntPtr is a convenience for MinLength/MaxLength.
func IntPtr(i int) *int {
	return &i
}

// Float64Ptr is a convenience for Minimum/Maximum.
func Float64Ptr(f float64) *float64 {
	return &f
}

// StringPtr is a convenience for Pattern.
func StringPtr(s string) *string {
	return &s
}
