// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crm-lead-workers/internal/automation"
	"crm-lead-workers/internal/common/camunda"
	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/database"
	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/observability"
	"crm-lead-workers/internal/common/queue"
	"crm-lead-workers/internal/common/search"
	"crm-lead-workers/internal/store"

	ad "crm-lead-workers/internal/workers/automation/automation-dispatch"
	cm "crm-lead-workers/internal/workers/college/college-match"
	la "crm-lead-workers/internal/workers/lead/lead-assign"
	lc "crm-lead-workers/internal/workers/lead/lead-capture"
	lus "crm-lead-workers/internal/workers/lead/lead-update-stage"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console").Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	log.Info("Starting worker manager...", map[string]interface{}{
		"version":   cfg.App.Version,
		"transport": cfg.Events.Transport,
	})

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(cfg.Camunda)
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	db := store.NewPostgres(pg.GetDB())
	if cfg.Database.Postgres.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()

	checks := readinessChecks{
		"zeebe":    zeebe.HealthCheck,
		"postgres": pg.Ping,
		"redis":    rdb.Ping,
	}

	// --- Elasticsearch (optional) ---
	var colleges *search.CollegeIndex
	if cfg.Search.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		if err := es.EnsureIndex(ctx, cfg.Search.CollegesIndex, search.CollegesMapping); err != nil {
			zapLog.Fatal("college index setup failed", zap.Error(err))
		}
		colleges = search.NewCollegeIndex(es.Client, cfg.Search.CollegesIndex)
		checks["elasticsearch"] = es.Ping
	}

	// --- RabbitMQ (amqp transport only) ---
	var mq *queue.RabbitMQ
	if cfg.Events.Transport == config.TransportAMQP {
		err = retryWithBackoff(func() error {
			var err error
			mq, err = queue.NewRabbitMQ(cfg.Messaging.RabbitMQ)
			return err
		}, 10, 2*time.Second, log, "RabbitMQ connection")
		if err != nil {
			zapLog.Fatal("rabbitmq failed after retries", zap.Error(err))
		}
		defer mq.Close()
		checks["rabbitmq"] = func(context.Context) error { return mq.Ping() }
	}

	// --- Automations ---
	channels, err := buildChannels(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("notification channels failed", zap.Error(err))
	}

	dispatchOpts := automation.DispatcherOptions{
		Registry: automation.NewRegistry(db, rdb.GetClient(), config.GetDuration(cfg.Automation.RegistryCacheTTL), log),
		Channels: channels,
		Timeout:  config.GetDuration(cfg.Automation.DispatchTimeout),
		Logger:   log.WithFields(map[string]interface{}{"component": "automation"}),
	}
	dispatcher := automation.NewDispatcher(dispatchOpts)

	publisher := events.NewAsyncPublisher(
		buildPublisher(cfg, mq, zeebe, dispatcher),
		cfg.Events.Transport,
		config.GetDuration(cfg.Events.PublishTimeout),
		log,
	)

	// --- Workers ---
	stageOpts := lus.HandlerOptions{
		AppConfig:     cfg,
		Store:         db,
		Publisher:     publisher,
		Observability: obs,
		Logger:        log,
	}
	if colleges != nil {
		stageOpts.Indexer = colleges
	}
	updateStage, err := lus.NewHandler(stageOpts)
	if err != nil {
		zapLog.Fatal("failed to create lead-update-stage handler", zap.Error(err))
	}

	assign, err := la.NewHandler(la.HandlerOptions{
		AppConfig:     cfg,
		Store:         db,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("failed to create lead-assign handler", zap.Error(err))
	}

	capture, err := lc.NewHandler(lc.HandlerOptions{
		AppConfig:     cfg,
		Store:         db,
		Publisher:     publisher,
		Observability: obs,
		Logger:        log,
	})
	if err != nil {
		zapLog.Fatal("failed to create lead-capture handler", zap.Error(err))
	}

	match, err := cm.NewHandler(cm.HandlerOptions{
		AppConfig: cfg,
		Source:    candidateSource(cfg, db, colleges),
		Cache:     rdb.GetClient(),
		Logger:    log,
	})
	if err != nil {
		zapLog.Fatal("failed to create college-match handler", zap.Error(err))
	}

	dispatch, err := ad.NewHandler(ad.HandlerOptions{
		AppConfig: cfg,
		Runner:    dispatcher,
		Logger:    log,
	})
	if err != nil {
		zapLog.Fatal("failed to create automation-dispatch handler", zap.Error(err))
	}

	workers := camunda.NewWorkerSet(zeebe.GetClient(), log)
	registrations := []camunda.Registration{
		{TaskType: lus.TaskType, Handler: updateStage.Handle, Config: updateStage.WorkerConfig()},
		{TaskType: la.TaskType, Handler: assign.Handle, Config: assign.WorkerConfig()},
		{TaskType: lc.TaskType, Handler: capture.Handle, Config: capture.WorkerConfig()},
		{TaskType: cm.TaskType, Handler: match.Handle, Config: match.WorkerConfig()},
	}
	// automation.dispatch only receives jobs when events travel over Zeebe.
	if cfg.Events.Transport == config.TransportZeebe {
		registrations = append(registrations, camunda.Registration{
			TaskType: ad.TaskType, Handler: dispatch.Handle, Config: dispatch.WorkerConfig(),
		})
	}
	for _, reg := range registrations {
		if err := workers.Open(reg); err != nil {
			zapLog.Fatal("worker registration failed", zap.String("taskType", reg.TaskType), zap.Error(err))
		}
	}
	log.Info("Workers registered", map[string]interface{}{"taskTypes": workers.TaskTypes()})

	// --- Event consumer ---
	consumerDone := make(chan struct{})
	if mq != nil {
		deliveries, err := mq.Deliveries(cfg.Messaging.RabbitMQ.Prefetch, "automation-dispatcher")
		if err != nil {
			zapLog.Fatal("rabbitmq consumer failed", zap.Error(err))
		}
		go func() {
			defer close(consumerDone)
			queue.Serve(ctx, deliveries, dispatcher.HandleMessage, log.WithFields(map[string]interface{}{"component": "consumer"}))
		}()
	} else {
		close(consumerDone)
	}

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newOpsRouter(checks, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received, stopping workers...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Close()
	publisher.Wait()
	updateStage.Wait()
	stop()
	<-consumerDone

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping health server", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Worker manager stopped gracefully", nil)
}
