package leadupdatestage

import (
	"context"
	"fmt"
	"time"

	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
	"crm-lead-workers/internal/common/observability"
	"crm-lead-workers/internal/common/validation"
	"crm-lead-workers/internal/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "lead.stage.update"
	configName = "lead-update-stage"
)

type Handler struct {
	config     *Config
	logger     logger.Logger
	obs        *observability.Observability
	service    *Service
	errHandler *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig     *config.Config
	Store         store.Store
	Publisher     events.Publisher
	Indexer       CollegeIndexer
	Observability *observability.Observability
	CustomConfig  *Config
	Logger        logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", configName, err)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%s requires a store", configName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:     workerConfig,
		logger:     loggerInstance,
		obs:        opts.Observability,
		errHandler: errors.NewErrorHandler(loggerInstance),
		service: NewService(ServiceDependencies{
			Store:         opts.Store,
			Publisher:     opts.Publisher,
			Indexer:       opts.Indexer,
			IndexTimeout:  indexTimeout(opts.AppConfig),
			Observability: opts.Observability,
			Logger:        loggerInstance,
		}, workerConfig),
	}, nil
}

func indexTimeout(appConfig *config.Config) time.Duration {
	if appConfig == nil {
		return 0
	}
	return config.GetDuration(appConfig.Events.PublishTimeout)
}

// Wait blocks until background work started by completed jobs is done.
func (h *Handler) Wait() {
	h.service.Wait()
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing lead stage update", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"worker":             TaskType,
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.service.Execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
			h.obs.RecordJobProcessed(ctx, TaskType, "completed")
			h.obs.RecordJobDuration(ctx, TaskType, time.Since(startTime), "completed")
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, extractErrorCode(err)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.errHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputParsingFailedError(err)
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, errors.NewValidationFailedError(fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	input := &Input{
		LeadID:      variables["leadId"].(string),
		Stage:       variables["stage"].(string),
		PerformedBy: variables["performedBy"].(string),
	}
	if status, ok := variables["status"].(string); ok {
		input.Status = status
	}
	if notes, ok := variables["notes"].(string); ok {
		input.Notes = notes
	}
	if follow, ok := variables["nextFollowUp"].(string); ok {
		input.NextFollowUp = follow
	}
	if value, ok := variables["value"].(float64); ok {
		input.Value = &value
	}

	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	variables := map[string]interface{}{
		"leadId":         output.LeadID,
		"leadStage":      output.Stage,
		"leadStatus":     output.Status,
		"leadConverted":  output.Converted,
		"collegeCreated": output.CollegeCreated,
	}
	if output.CollegeID != "" {
		variables["collegeId"] = output.CollegeID
	}
	if output.ConversionWarning != "" {
		variables["conversionWarning"] = output.ConversionWarning
	}

	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(variables)
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

	h.logger.Info("Lead stage updated", map[string]interface{}{
		"jobKey":    job.GetKey(),
		"leadId":    output.LeadID,
		"stage":     output.Stage,
		"converted": output.Converted,
		"worker":    TaskType,
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

// WorkerConfig is the registration view of this handler's settings.
func (h *Handler) WorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Enabled:       h.config.Enabled,
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       int(h.config.Timeout / time.Millisecond),
	}
}

// Execute runs the service without a Zeebe job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.service.Execute(ctx, input)
}

func extractErrorCode(err error) string {
	if stdErr, ok := errors.AsStandardError(err); ok {
		return string(stdErr.Code)
	}
	return "UNKNOWN_ERROR"
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()

	if appConfig != nil {
		if workerCfg, exists := appConfig.Workers[configName]; exists {
			cfg.Enabled = workerCfg.Enabled
			if workerCfg.MaxJobsActive > 0 {
				cfg.MaxJobsActive = workerCfg.MaxJobsActive
			}
			if workerCfg.Timeout > 0 {
				cfg.Timeout = config.GetDuration(workerCfg.Timeout)
			}
		}
		if appConfig.Search.MaxCandidates > 0 {
			cfg.MaxCandidates = appConfig.Search.MaxCandidates
		}
	}

	return cfg
}
