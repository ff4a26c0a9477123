// internal/workers/nlu/clear-conversation/handler.go
package clearconversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"intent-engine/internal/common/errors"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/models"
)

const (
	TaskType = "clear-conversation"
)

// Conversation is satisfied by *engine.Engine.
type Conversation interface {
	ClearConversation(ctx context.Context, sessionID string) error
	ClearConversationEntities(ctx context.Context, sessionID string, filter func(models.Entity) bool) (int, error)
	ClearDialog(ctx context.Context, sessionID string, filter func(conversation.DialogItem) bool) (int, error)
	ConversationStatus(ctx context.Context, sessionID string) (conversation.Status, error)
}

type Handler struct {
	config *Config
	conv   Conversation
	errors *errors.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, conv Conversation, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		conv:   conv,
		errors: errors.NewErrorHandler(log),
		logger: log,
	}
}

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

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

// Execute applies the clear request. Clearing an unknown session succeeds.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.SessionID == "" {
		return nil, errors.NewInvalidInputError("sessionId is required")
	}
	scope := input.Scope
	if scope == "" {
		scope = ScopeAll
	}

	out := &Output{SessionID: input.SessionID, Scope: scope}
	var err error
	switch scope {
	case ScopeAll:
		err = h.conv.ClearConversation(ctx, input.SessionID)
	case ScopeEntities:
		ids := set(input.EntityIDs)
		out.RemovedEntities, err = h.conv.ClearConversationEntities(ctx, input.SessionID, func(e models.Entity) bool {
			return len(ids) == 0 || ids[e.ID]
		})
	case ScopeDialog:
		ids := set(input.IntentIDs)
		out.RemovedDialog, err = h.conv.ClearDialog(ctx, input.SessionID, func(d conversation.DialogItem) bool {
			return len(ids) == 0 || ids[d.IntentID]
		})
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown scope %q", input.Scope))
	}
	if err != nil {
		return nil, err
	}

	status, err := h.conv.ConversationStatus(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	out.Status = string(status)

	h.logger.Info("conversation cleared", map[string]interface{}{
		"sessionId":       input.SessionID,
		"scope":           scope,
		"removedEntities": out.RemovedEntities,
		"removedDialog":   out.RemovedDialog,
	})
	return out, nil
}

func set(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
