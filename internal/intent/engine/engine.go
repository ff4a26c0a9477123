// Package engine is the entry point of intent resolution: a frozen table of
// compiled intents with their handlers, conversation memory, and the
// selector that picks one intent per request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"intent-engine/internal/common/logger"
	"intent-engine/internal/common/metrics"
	"intent-engine/internal/common/observability"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/macro"
	"intent-engine/internal/intent/selector"
	"intent-engine/internal/intent/solver"
	"intent-engine/internal/models"
)

var (
	ErrInvalidRequest = errors.New("INVALID_INPUT")
	ErrHandlerFailed  = errors.New("INTENT_HANDLER_FAILED")
)

// Request is one user turn.
type Request struct {
	SessionID string           `json:"sessionId"`
	Variants  []models.Variant `json:"variants"`
}

// Result is a successful resolution.
type Result struct {
	RequestID    string                     `json:"requestId"`
	SessionID    string                     `json:"sessionId"`
	IntentID     string                     `json:"intentId"`
	VariantIndex int                        `json:"variantIndex"`
	Terms        map[string][]models.Entity `json:"terms"`
	Assignment   []solver.TermMatch         `json:"assignment"`
	Score        solver.Score               `json:"score"`
	Output       interface{}                `json:"output,omitempty"`
	TimedOut     []string                   `json:"timedOut,omitempty"`
	Duration     time.Duration              `json:"duration"`
}

// Observer receives every resolution outcome after the session is saved.
type Observer interface {
	Resolved(ctx context.Context, res *Result)
	Failed(ctx context.Context, req Request, requestID string, err error)
}

type Engine struct {
	templates []*dsl.Template
	handlers  map[string]Handler
	macros    *macro.Processor
	synonyms  map[string][]string
	selector  *selector.Selector
	conv      *conversation.Manager
	obs       *observability.Observability
	observers []Observer
	logger    logger.Logger
}

func noopHandler(context.Context, *IntentMatch) (interface{}, error) { return nil, nil }

// Resolve picks the intent that best explains the request, runs its handler
// and remembers the turn. Failures to match are *selector.MatchFailure.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := e.obs.StartSpan(ctx, "intent.resolve",
		attribute.String("session.id", req.SessionID),
		attribute.String("request.id", requestID),
		attribute.Int("variants", len(req.Variants)),
	)
	defer span.End()

	log := e.logger.WithFields(map[string]interface{}{
		"requestId": requestID,
		"sessionId": req.SessionID,
	})

	res, err := e.resolve(ctx, req, requestID, log)
	duration := time.Since(start)
	outcome := outcomeOf(err)

	metrics.ResolutionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	e.obs.RecordResolution(ctx, outcome, duration)

	if err != nil {
		metrics.IntentResolutions.WithLabelValues("", outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		log.Info("Intent resolution failed", map[string]interface{}{
			"outcome":  outcome,
			"error":    err.Error(),
			"duration": duration.String(),
		})
		for _, o := range e.observers {
			o.Failed(ctx, req, requestID, err)
		}
		return nil, err
	}

	res.Duration = duration
	metrics.IntentResolutions.WithLabelValues(res.IntentID, outcome).Inc()
	span.SetAttributes(attribute.String("intent.id", res.IntentID))
	log.Info("Intent resolved", map[string]interface{}{
		"intentId":     res.IntentID,
		"variantIndex": res.VariantIndex,
		"score":        res.Score.String(),
		"duration":     duration.String(),
	})
	for _, o := range e.observers {
		o.Resolved(ctx, res)
	}
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, req Request, requestID string, log logger.Logger) (*Result, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	// Everything in the request belongs to the current turn.
	variants := make([]models.Variant, len(req.Variants))
	for i, v := range req.Variants {
		variants[i] = models.NewVariant(v.Entities...)
	}
	req.Variants = variants

	var res *Result
	err := e.conv.WithSession(ctx, req.SessionID, func(state *conversation.State) error {
		winner, ranking, err := e.selector.Resolve(ctx, e.templates, variants, state.Entities(), state.IntentIDs())
		if err != nil {
			return err
		}

		for pos := 0; ; {
			id := winner.Template.ID
			out, herr := e.handlers[id](ctx, newIntentMatch(req, requestID, winner))
			if errors.Is(herr, ErrIntentSkip) {
				log.Debug("Intent skipped by handler", map[string]interface{}{"intentId": id})
				pos++
				if winner, err = ranking.Choose(pos); err != nil {
					return err
				}
				continue
			}
			if herr != nil {
				return fmt.Errorf("%w: intent %s handler: %w", ErrHandlerFailed, id, herr)
			}

			now := e.conv.Now()
			state.Append(variants[winner.VariantIndex].Entities, e.conv.Depth(), now)
			state.RecordIntent(id, requestID, e.conv.DialogLimit(), now)

			m := newIntentMatch(req, requestID, winner)
			res = &Result{
				RequestID:    requestID,
				SessionID:    req.SessionID,
				IntentID:     id,
				VariantIndex: winner.VariantIndex,
				Terms:        m.Terms(),
				Assignment:   winner.Assignment,
				Score:        winner.Score,
				Output:       out,
				TimedOut:     ranking.TimedOut,
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeMatched
	case errors.Is(err, selector.ErrNoMatchFound):
		return metrics.OutcomeNoMatch
	case errors.Is(err, selector.ErrAmbiguousMatch):
		return metrics.OutcomeAmbiguous
	default:
		return metrics.OutcomeError
	}
}

// ClearConversation forgets everything about the session. It always succeeds
// for a healthy store and may be called at any time.
func (e *Engine) ClearConversation(ctx context.Context, sessionID string) error {
	return e.conv.Clear(ctx, sessionID)
}

// ClearConversationEntities forgets remembered entities matching filter.
func (e *Engine) ClearConversationEntities(ctx context.Context, sessionID string, filter func(models.Entity) bool) (int, error) {
	return e.conv.ClearEntities(ctx, sessionID, filter)
}

// ClearDialog forgets dialog flow items matching filter.
func (e *Engine) ClearDialog(ctx context.Context, sessionID string, filter func(conversation.DialogItem) bool) (int, error) {
	return e.conv.ClearDialog(ctx, sessionID, filter)
}

func (e *Engine) DialogFlow(ctx context.Context, sessionID string) ([]conversation.DialogItem, error) {
	return e.conv.DialogFlow(ctx, sessionID)
}

func (e *Engine) ConversationStatus(ctx context.Context, sessionID string) (conversation.Status, error) {
	return e.conv.Status(ctx, sessionID)
}

// Conversation exposes the session manager.
func (e *Engine) Conversation() *conversation.Manager { return e.conv }

// Expand runs synonym expansion through the engine's macros.
func (e *Engine) Expand(s string) ([]string, error) {
	return e.macros.Expand(s)
}

// Synonyms returns the expanded synonyms of a model element.
func (e *Engine) Synonyms(elementID string) []string {
	return e.synonyms[elementID]
}

// Templates lists the compiled intents in registration order.
func (e *Engine) Templates() []*dsl.Template {
	out := make([]*dsl.Template, len(e.templates))
	copy(out, e.templates)
	return out
}

func (e *Engine) Template(id string) (*dsl.Template, bool) {
	for _, t := range e.templates {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
