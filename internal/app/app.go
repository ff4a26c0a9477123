// Package app wires configuration into a running intent engine service:
// model source, conversation store, audit sinks, Camunda workers and the
// health/metrics server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intent-engine/internal/audit"
	"intent-engine/internal/common/aws"
	"intent-engine/internal/common/camunda"
	"intent-engine/internal/common/config"
	"intent-engine/internal/common/database"
	commonhttp "intent-engine/internal/common/http"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/common/observability"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/engine"
	"intent-engine/internal/modelstore"
	clearconversation "intent-engine/internal/workers/nlu/clear-conversation"
	resolveintent "intent-engine/internal/workers/nlu/resolve-intent"
)

const readinessTimeout = 2 * time.Second

type App struct {
	cfg    *config.Config
	logger logger.Logger
	obs    *observability.Observability

	engine    *engine.Engine
	publisher *audit.Publisher
	zeebe     *camunda.Client
	workers   []*camunda.CamundaWorker
	checks    []database.Pinger
	closers   []func() error

	server *http.Server
}

// New builds every component named by cfg. On error everything opened so
// far is shut down again.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: log,
		obs:    observability.New(cfg.App.Name),
	}
	if err := a.build(ctx); err != nil {
		if serr := a.Shutdown(context.Background()); serr != nil {
			log.Warn("Cleanup after failed startup", map[string]interface{}{"error": serr.Error()})
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger

	source, err := a.modelSource()
	if err != nil {
		return err
	}
	m, err := source.Load(ctx, cfg.Engine.ModelID)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	store, err := a.conversationStore()
	if err != nil {
		return err
	}

	b := engine.NewBuilder(engine.Config{
		StepBudget:    cfg.Engine.StepBudget,
		Workers:       cfg.Engine.Workers,
		OrderTieBreak: cfg.Engine.OrderTieBreak,
		Conversation: conversation.Config{
			Depth:       cfg.Conversation.Depth,
			Timeout:     cfg.Conversation.ConversationTimeout(),
			DialogLimit: cfg.Conversation.DialogLimit,
		},
	}, log).WithStore(store).WithObservability(a.obs)

	if cfg.Audit.Enabled {
		if a.publisher, err = a.auditPublisher(ctx); err != nil {
			return err
		}
		b.WithObserver(a.publisher)
	}

	if err := b.LoadModel(m, nil); err != nil {
		return err
	}
	if a.engine, err = b.Build(); err != nil {
		return err
	}

	if cfg.Camunda.Enabled {
		if err := a.startWorkers(ctx); err != nil {
			return err
		}
	}

	a.server = &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Engine is the built engine.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) modelSource() (modelstore.Source, error) {
	switch a.cfg.Engine.ModelSource {
	case config.ModelSourcePostgres:
	case config.ModelSourceHTTP:
		src := modelstore.HTTPSource{
			URL:    a.cfg.Engine.ModelURL,
			Client: commonhttp.NewClient(30 * time.Second),
		}
		if a.cfg.Engine.ModelToken != "" {
			src.Headers = map[string]string{"Authorization": "Bearer " + a.cfg.Engine.ModelToken}
		}
		return src, nil
	default:
		return modelstore.FileSource{Path: a.cfg.Engine.ModelPath}, nil
	}

	pg, err := database.NewPostgres(a.cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	a.track(pg, pg.Close)
	a.logger.Info("PostgreSQL model source configured", map[string]interface{}{
		"host":    a.cfg.Database.Postgres.Host,
		"modelId": a.cfg.Engine.ModelID,
	})
	return modelstore.NewPostgresSource(pg.GetDB(), a.logger), nil
}

func (a *App) conversationStore() (conversation.Store, error) {
	if a.cfg.Conversation.Store != config.StoreRedis {
		return conversation.NewMemoryStore(), nil
	}

	rc, err := database.NewRedis(a.cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	a.track(rc, rc.Close)
	a.logger.Info("Redis conversation store configured", map[string]interface{}{
		"address":   a.cfg.Database.Redis.Address,
		"keyPrefix": a.cfg.Conversation.KeyPrefix,
	})
	store := conversation.NewRedisStore(rc.GetClient(), a.cfg.Conversation.KeyPrefix, a.cfg.Conversation.KeyTTL())
	return store.WithLock(a.cfg.Conversation.SessionLockTTL()), nil
}

func (a *App) auditPublisher(ctx context.Context) (*audit.Publisher, error) {
	var sinks []audit.Sink

	if a.cfg.Database.Elasticsearch.GetURL() != "" {
		es, err := database.NewElasticsearch(a.cfg.Database.Elasticsearch)
		if err != nil {
			return nil, err
		}
		a.track(es, nil)
		sinks = append(sinks, audit.NewElasticsearchSink(es, a.cfg.Audit.ElasticsearchIndex))
	}
	if a.cfg.Audit.SNSTopicARN != "" {
		client, err := aws.NewSNSClient(ctx, a.cfg.Audit.Region)
		if err != nil {
			return nil, fmt.Errorf("audit sns client: %w", err)
		}
		sinks = append(sinks, audit.NewSNSSink(client, a.cfg.Audit.SNSTopicARN))
	}

	a.logger.Info("Audit publisher configured", map[string]interface{}{"sinks": len(sinks)})
	return audit.NewPublisher(a.logger, 0, sinks...), nil
}

func (a *App) startWorkers(ctx context.Context) error {
	client, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(a.cfg.Camunda))
	if err != nil {
		return err
	}
	a.zeebe = client
	a.checks = append(a.checks, client)
	a.logger.Info("Zeebe client connected", map[string]interface{}{"gateway": a.cfg.Camunda.BrokerAddress})

	if config.IsWorkerEnabled(a.cfg, resolveintent.TaskType) {
		wc := resolveintent.LoadConfig(a.cfg)
		h := resolveintent.NewHandler(wc, a.engine, a.logger)
		a.workers = append(a.workers, camunda.NewWorker(client.GetClient(), camunda.WorkerOptions{
			TaskType:      resolveintent.TaskType,
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       wc.Timeout,
		}, h, a.logger))
	}
	if config.IsWorkerEnabled(a.cfg, clearconversation.TaskType) {
		wc := clearconversation.LoadConfig(a.cfg)
		h := clearconversation.NewHandler(wc, a.engine, a.logger)
		a.workers = append(a.workers, camunda.NewWorker(client.GetClient(), camunda.WorkerOptions{
			TaskType:      clearconversation.TaskType,
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       wc.Timeout,
		}, h, a.logger))
	}

	a.logger.Info("Workers registered", map[string]interface{}{"count": len(a.workers)})
	return nil
}

func (a *App) track(p database.Pinger, closeFn func() error) {
	a.checks = append(a.checks, p)
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
}

// Routes serves liveness, readiness and Prometheus metrics.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"intents": len(a.engine.Templates()),
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failed := database.CheckAll(r.Context(), readinessTimeout, a.checks...)
		if len(failed) > 0 {
			reasons := make(map[string]string, len(failed))
			for name, err := range failed {
				reasons[name] = err.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not ready",
				"failed": reasons,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Health/Metrics server listening", map[string]interface{}{"address": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received, stopping workers", nil)
	case serveErr = <-errCh:
		a.logger.Error("Health/Metrics server failed", map[string]interface{}{"error": serveErr.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the workers first so no job runs against a closed store.
func (a *App) Shutdown(ctx context.Context) error {
	for _, w := range a.workers {
		w.Stop(ctx)
	}

	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.zeebe != nil {
		errs = append(errs, a.zeebe.Close())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close(ctx))
	}
	errs = append(errs, a.closeAll())
	a.obs.Shutdown()

	a.logger.Info("Intent engine stopped", nil)
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
