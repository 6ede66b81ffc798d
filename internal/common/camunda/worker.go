package camunda

import (
	"fmt"

	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every worker handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// Registration pairs a task type with its handler and settings.
type Registration struct {
	TaskType string
	Name     string
	Handler  worker.JobHandler
	Config   config.WorkerConfig
}

// WorkerSet owns the open job workers so they can be closed together.
type WorkerSet struct {
	client  zbc.Client
	logger  logger.Logger
	workers map[string]worker.JobWorker
}

func NewWorkerSet(client zbc.Client, log logger.Logger) *WorkerSet {
	return &WorkerSet{
		client:  client,
		logger:  log,
		workers: make(map[string]worker.JobWorker),
	}
}

// Open starts polling for the registration's task type. Disabled
// registrations are skipped and reported as such.
func (s *WorkerSet) Open(reg Registration) error {
	if !reg.Config.Enabled {
		s.logger.Info("Worker is disabled, skipping registration", map[string]interface{}{
			"taskType": reg.TaskType,
		})
		return nil
	}
	if _, exists := s.workers[reg.TaskType]; exists {
		return fmt.Errorf("worker for %s already registered", reg.TaskType)
	}

	name := reg.Name
	if name == "" {
		name = fmt.Sprintf("%s-worker", reg.TaskType)
	}

	jobWorker := s.client.NewJobWorker().
		JobType(reg.TaskType).
		Handler(reg.Handler).
		MaxJobsActive(reg.Config.MaxJobsActive).
		Timeout(config.GetDuration(reg.Config.Timeout)).
		Name(name).
		Open()

	s.workers[reg.TaskType] = jobWorker

	s.logger.Info("Worker registered with Camunda", map[string]interface{}{
		"taskType":      reg.TaskType,
		"maxJobsActive": reg.Config.MaxJobsActive,
		"timeoutMs":     reg.Config.Timeout,
	})
	return nil
}

// TaskTypes lists the open task types.
func (s *WorkerSet) TaskTypes() []string {
	out := make([]string, 0, len(s.workers))
	for t := range s.workers {
		out = append(out, t)
	}
	return out
}

// Close stops every worker and waits for in-flight handlers.
func (s *WorkerSet) Close() {
	for taskType, w := range s.workers {
		s.logger.Info("Shutting down worker gracefully", map[string]interface{}{
			"taskType": taskType,
		})
		w.Close()
		w.AwaitClose()
	}
	s.workers = make(map[string]worker.JobWorker)
}
