package main

import (
	"time"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/validation"
	"crm-lead-workers/pkg/registry"

	ad "crm-lead-workers/internal/workers/automation/automation-dispatch"
	cm "crm-lead-workers/internal/workers/college/college-match"
	la "crm-lead-workers/internal/workers/lead/lead-assign"
	lc "crm-lead-workers/internal/workers/lead/lead-capture"
	lus "crm-lead-workers/internal/workers/lead/lead-update-stage"
)

var inputErrors = []apperrors.ErrorCode{
	apperrors.ErrCodeInputParsingFailed,
	apperrors.ErrCodeValidationFailed,
}

func codes(groups ...[]apperrors.ErrorCode) []string {
	var out []string
	for _, g := range groups {
		for _, c := range g {
			out = append(out, string(c))
		}
	}
	return out
}

func activity(id, name, description, category, taskType string, schema validation.JSONSchema, outputs []string, errs []string, timeout time.Duration, tags ...string) registry.Activity {
	return registry.Activity{
		ID:          id,
		DisplayName: name,
		Description: description,
		Category:    category,
		Version:     "1.0.0",
		TaskType:    taskType,
		InputSchema: schema.ToMap(),
		Outputs:     outputs,
		ErrorCodes:  errs,
		Timeout:     timeout.String(),
		Retries:     3,
		Tags:        tags,
	}
}

// catalogue describes every worker the worker manager can register.
func catalogue() []registry.Activity {
	return []registry.Activity{
		activity("lead-update-stage", "Update Lead Stage",
			"Moves a lead to a new stage. Converting links or creates the lead's college.",
			"lead", lus.TaskType, lus.GetInputSchema(),
			[]string{"leadId", "leadStage", "leadStatus", "leadConverted", "collegeCreated", "collegeId", "conversionWarning"},
			codes(inputErrors, []apperrors.ErrorCode{
				apperrors.ErrCodeInvalidIdentifier, apperrors.ErrCodeInvalidStage, apperrors.ErrCodeInvalidStatus,
				apperrors.ErrCodeInvalidPerformer, apperrors.ErrCodeLeadNotFound,
				apperrors.ErrCodeDatabaseQueryFailed, apperrors.ErrCodeDatabaseTxFailed,
			}),
			lus.DefaultConfig().Timeout, "lead", "conversion", "college"),

		activity("lead-assign", "Assign Lead",
			"Assigns a lead to a user, links it to a college or changes its priority.",
			"lead", la.TaskType, la.GetInputSchema(),
			[]string{"leadId", "leadPriority", "assignedToId", "collegeId"},
			codes(inputErrors, []apperrors.ErrorCode{
				apperrors.ErrCodeInvalidIdentifier, apperrors.ErrCodeInvalidPriority, apperrors.ErrCodeInvalidPerformer,
				apperrors.ErrCodeLeadNotFound, apperrors.ErrCodeUserNotFound, apperrors.ErrCodeCollegeNotFound,
				apperrors.ErrCodeDatabaseQueryFailed, apperrors.ErrCodeDatabaseTxFailed,
			}),
			la.DefaultConfig().Timeout, "lead", "assignment"),

		activity("lead-capture", "Capture Lead",
			"Creates a new lead from a form submission or import.",
			"lead", lc.TaskType, lc.GetInputSchema(),
			[]string{"leadId", "leadStage", "leadStatus"},
			codes(inputErrors, []apperrors.ErrorCode{apperrors.ErrCodeDatabaseTxFailed}),
			lc.DefaultConfig().Timeout, "lead", "intake"),

		activity("college-match", "Match College",
			"Finds the existing college that an organization name refers to.",
			"college", cm.TaskType, cm.GetInputSchema(),
			[]string{"collegeMatched", "collegeMatchTier", "collegeId", "collegeName"},
			codes(inputErrors, []apperrors.ErrorCode{
				apperrors.ErrCodeDatabaseQueryFailed, apperrors.ErrCodeSearchQueryFailed, apperrors.ErrCodeIndexNotFound,
			}),
			cm.DefaultConfig().Timeout, "college", "matching"),

		activity("automation-dispatch", "Dispatch Lead Automations",
			"Runs the active automations for a lead event. Follows the lead-event message start event.",
			"automation", ad.TaskType, ad.GetInputSchema(),
			[]string{"automationsMatched", "automationsSent", "automationsFailed", "automationsSkipped"},
			codes(inputErrors),
			ad.DefaultConfig().Timeout, "automation", "notification"),
	}
}
