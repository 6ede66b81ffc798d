// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Not-found errors abort a lead operation before any write.
const (
	ErrCodeLeadNotFound    ErrorCode = "LEAD_NOT_FOUND"
	ErrCodeUserNotFound    ErrorCode = "USER_NOT_FOUND"
	ErrCodeCollegeNotFound ErrorCode = "COLLEGE_NOT_FOUND"
)

// Bad-request errors also abort before any write.
const (
	ErrCodeInvalidIdentifier  ErrorCode = "INVALID_IDENTIFIER"
	ErrCodeInvalidStage       ErrorCode = "INVALID_STAGE"
	ErrCodeInvalidStatus      ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidPriority    ErrorCode = "INVALID_PRIORITY"
	ErrCodeInvalidPerformer   ErrorCode = "INVALID_PERFORMER"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeInputParsingFailed ErrorCode = "INPUT_PARSING_FAILED"
)

// Technical errors.
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQueryFailed      ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeDatabaseTxFailed         ErrorCode = "DATABASE_TX_FAILED"

	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeIndexNotFound     ErrorCode = "INDEX_NOT_FOUND"

	ErrCodeEventPublishFailed     ErrorCode = "EVENT_PUBLISH_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeChannelNotConfigured   ErrorCode = "CHANNEL_NOT_CONFIGURED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewLeadNotFoundError(leadID string) *StandardError {
	return newError(ErrCodeLeadNotFound, "Lead not found", fmt.Sprintf("leadId: %s", leadID), false)
}

func NewUserNotFoundError(userID string) *StandardError {
	return newError(ErrCodeUserNotFound, "User not found", fmt.Sprintf("userId: %s", userID), false)
}

func NewCollegeNotFoundError(collegeID string) *StandardError {
	return newError(ErrCodeCollegeNotFound, "College not found", fmt.Sprintf("collegeId: %s", collegeID), false)
}

func NewInvalidIdentifierError(field, value string) *StandardError {
	return newError(ErrCodeInvalidIdentifier, "Malformed identifier", fmt.Sprintf("%s: %q", field, value), false)
}

func NewInvalidStageError(err error) *StandardError {
	return newError(ErrCodeInvalidStage, "Invalid stage", err.Error(), false)
}

func NewInvalidStatusError(err error) *StandardError {
	return newError(ErrCodeInvalidStatus, "Invalid status", err.Error(), false)
}

func NewInvalidPriorityError(err error) *StandardError {
	return newError(ErrCodeInvalidPriority, "Invalid priority", err.Error(), false)
}

func NewInvalidPerformerError(details string) *StandardError {
	return newError(ErrCodeInvalidPerformer, "Invalid performer", details, false)
}

func NewValidationFailedError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Input validation failed", details, false)
}

func NewInputParsingFailedError(err error) *StandardError {
	return newError(ErrCodeInputParsingFailed, "Failed to parse job variables", err.Error(), false)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	e := newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
	e.cause = err
	return e
}

// NewDatabaseQueryFailedError creates a retryable query error.
func NewDatabaseQueryFailedError(operation string, err error) *StandardError {
	e := newError(ErrCodeDatabaseQueryFailed, "Database query failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
	e.cause = err
	return e
}

// NewDatabaseTxFailedError creates a retryable transaction error.
func NewDatabaseTxFailedError(err error) *StandardError {
	e := newError(ErrCodeDatabaseTxFailed, "Database transaction failed", err.Error(), true)
	e.cause = err
	return e
}

func NewSearchQueryFailedError(index string, err error) *StandardError {
	e := newError(ErrCodeSearchQueryFailed, "Elasticsearch query error",
		fmt.Sprintf("index: %s, error: %s", index, err.Error()), true)
	e.cause = err
	return e
}

func NewIndexNotFoundError(indexName string) *StandardError {
	return newError(ErrCodeIndexNotFound, "Elasticsearch index not found", fmt.Sprintf("indexName: %s", indexName), false)
}

func NewEventPublishFailedError(transport string, err error) *StandardError {
	e := newError(ErrCodeEventPublishFailed, "Lead event publish failed",
		fmt.Sprintf("transport: %s, error: %s", transport, err.Error()), true)
	e.cause = err
	return e
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
	e.cause = err
	return e
}

func NewChannelNotConfiguredError(channel string) *StandardError {
	return newError(ErrCodeChannelNotConfigured, "Delivery channel not configured", fmt.Sprintf("channel: %s", channel), false)
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	e := newError("EXTERNAL_SERVICE_ERROR", fmt.Sprintf("External service '%s' error", service), err.Error(), true)
	e.cause = err
	return e
}

func NewTimeoutError(service string, err error) *StandardError {
	e := newError("TIMEOUT_ERROR", fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
	e.cause = err
	return e
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError("RESOURCE_NOT_FOUND", fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewBusinessRuleError(message, details string) *StandardError {
	return newError("BUSINESS_RULE_VIOLATION", message, details, false)
}

// ==========================
// 4. Classification
// ==========================

// AsStandardError finds the first *StandardError in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsNotFound reports whether err refers to a missing lead, user or college.
func IsNotFound(err error) bool {
	stdErr, ok := AsStandardError(err)
	if !ok {
		return false
	}
	switch stdErr.Code {
	case ErrCodeLeadNotFound, ErrCodeUserNotFound, ErrCodeCollegeNotFound, "RESOURCE_NOT_FOUND":
		return true
	}
	return false
}

// IsBadRequest reports whether err is a malformed identifier or enum value.
func IsBadRequest(err error) bool {
	stdErr, ok := AsStandardError(err)
	if !ok {
		return false
	}
	return GetErrorCategory(stdErr.Code) == "VALIDATION"
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeDatabaseTxFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeEventPublishFailed,
		ErrCodeNotificationSendFailed,
		"EXTERNAL_SERVICE_ERROR":
		return 3

	case "TIMEOUT_ERROR":
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
// BPMN codes are the internal codes verbatim.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasSuffix(codeStr, "NOT_FOUND") && !strings.HasPrefix(codeStr, "INDEX"):
		return "NOT_FOUND"
	case strings.HasPrefix(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSING"):
		return "VALIDATION"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "CHANNEL") || strings.Contains(codeStr, "EVENT"):
		return "DISPATCH"
	default:
		return "OTHER"
	}
}
