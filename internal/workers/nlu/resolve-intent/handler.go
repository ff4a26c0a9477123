// internal/workers/nlu/resolve-intent/handler.go
package resolveintent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"intent-engine/internal/common/errors"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/engine"
)

const (
	TaskType = "resolve-intent"
)

// Resolver is satisfied by *engine.Engine.
type Resolver interface {
	Resolve(ctx context.Context, req engine.Request) (*engine.Result, error)
}

type Handler struct {
	config   *Config
	resolver Resolver
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, resolver Resolver, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		resolver: resolver,
		errors:   errors.NewErrorHandler(log),
		logger:   log,
	}
}

// Handle completes the job with the winning intent. NO_MATCH_FOUND and
// AMBIGUOUS_MATCH are thrown as BPMN errors; store failures are retried.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if res, err := inputSchema.ValidateJSON(job.Variables); err != nil || !res.Valid {
		if err == nil {
			err = errors.NewInvalidInputError(strings.Join(res.GetErrorMessages(), "; "))
		} else {
			err = errors.NewInvalidInputError(err.Error())
		}
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		err = errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return err
	}

	return h.completeJob(ctx, client, job, output)
}

// Execute resolves one turn.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.SessionID == "" {
		return nil, errors.NewInvalidInputError("sessionId is required")
	}
	if len(input.Variants) == 0 {
		return nil, errors.NewInvalidInputError("at least one variant is required")
	}

	res, err := h.resolver.Resolve(ctx, engine.Request{
		SessionID: input.SessionID,
		Variants:  input.Variants,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		RequestID:    res.RequestID,
		IntentID:     res.IntentID,
		VariantIndex: res.VariantIndex,
		Terms:        res.Terms,
		Score:        res.Score.String(),
		Result:       res.Output,
		TimedOut:     res.TimedOut,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}
	if _, err = cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}

	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":   job.Key,
		"intentId": output.IntentID,
	})
	return nil
}
