package automationdispatch

import (
	"context"
	"fmt"
	"time"

	"crm-lead-workers/internal/automation"
	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
	"crm-lead-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// TaskType is the service task following the lead-event message start
// event when events travel over Zeebe.
const TaskType = "automation.dispatch"

// Runner fans one event out to its automations.
type Runner interface {
	Run(ctx context.Context, e events.LeadEvent) (automation.Result, error)
}

type Handler struct {
	config     *Config
	logger     logger.Logger
	runner     Runner
	errHandler *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	Runner       Runner
	CustomConfig *Config
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for automation-dispatch: %w", err)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("automation-dispatch requires a dispatcher")
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:     workerConfig,
		logger:     loggerInstance,
		runner:     opts.Runner,
		errHandler: errors.NewErrorHandler(loggerInstance),
	}, nil
}

// Handle never fails a job because a delivery failed; deliveries are not
// retried. Only an unreadable event is reported as a job error.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	event, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	res, err := h.Execute(ctx, event)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(map[string]interface{}{
		"automationsMatched": res.Matched,
		"automationsSent":    res.Sent,
		"automationsFailed":  res.Failed,
		"automationsSkipped": res.Skipped,
	})
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}
	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (events.LeadEvent, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return events.LeadEvent{}, errors.NewInputParsingFailedError(err)
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return events.LeadEvent{}, errors.NewValidationFailedError(fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	event, err := events.FromVariables(variables)
	if err != nil {
		return events.LeadEvent{}, errors.NewInputParsingFailedError(err)
	}
	return event, nil
}

func (h *Handler) Execute(ctx context.Context, event events.LeadEvent) (automation.Result, error) {
	res, err := h.runner.Run(ctx, event)
	if err != nil {
		return res, errors.NewValidationFailedError(err.Error())
	}
	return res, nil
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) WorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Enabled:       h.config.Enabled,
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       int(h.config.Timeout / time.Millisecond),
	}
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()

	if appConfig != nil {
		if workerCfg, exists := appConfig.Workers["automation-dispatch"]; exists {
			cfg.Enabled = workerCfg.Enabled
			if workerCfg.MaxJobsActive > 0 {
				cfg.MaxJobsActive = workerCfg.MaxJobsActive
			}
			if workerCfg.Timeout > 0 {
				cfg.Timeout = config.GetDuration(workerCfg.Timeout)
			}
		}
	}

	return cfg
}
