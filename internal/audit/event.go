// Package audit publishes one event per resolution attempt to external sinks.
package audit

import (
	"time"

	"intent-engine/internal/common/errors"
	"intent-engine/internal/common/metrics"
	"intent-engine/internal/intent/engine"
)

// Event is the record of one Resolve call.
type Event struct {
	RequestID    string              `json:"requestId"`
	SessionID    string              `json:"sessionId"`
	Outcome      string              `json:"outcome"`
	IntentID     string              `json:"intentId,omitempty"`
	VariantIndex int                 `json:"variantIndex"`
	Score        string              `json:"score,omitempty"`
	Terms        map[string][]string `json:"terms,omitempty"`
	TimedOut     []string            `json:"timedOut,omitempty"`
	ErrorCode    string              `json:"errorCode,omitempty"`
	Error        string              `json:"error,omitempty"`
	DurationMs   int64               `json:"durationMs"`
	Timestamp    time.Time           `json:"timestamp"`
}

func resolvedEvent(res *engine.Result, now time.Time) Event {
	terms := make(map[string][]string, len(res.Terms))
	for name, ents := range res.Terms {
		ids := make([]string, len(ents))
		for i, e := range ents {
			ids[i] = e.ID
		}
		terms[name] = ids
	}
	return Event{
		RequestID:    res.RequestID,
		SessionID:    res.SessionID,
		Outcome:      metrics.OutcomeMatched,
		IntentID:     res.IntentID,
		VariantIndex: res.VariantIndex,
		Score:        res.Score.String(),
		Terms:        terms,
		TimedOut:     res.TimedOut,
		DurationMs:   res.Duration.Milliseconds(),
		Timestamp:    now.UTC(),
	}
}

func failedEvent(req engine.Request, requestID string, err error, now time.Time) Event {
	std := errors.FromError(err)
	ev := Event{
		RequestID:    requestID,
		SessionID:    req.SessionID,
		Outcome:      outcomeOf(std.Code),
		VariantIndex: -1,
		ErrorCode:    string(std.Code),
		Error:        err.Error(),
		Timestamp:    now.UTC(),
	}
	if ids, ok := std.Metadata["timedOut"].([]string); ok {
		ev.TimedOut = ids
	}
	return ev
}

func outcomeOf(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeNoMatchFound, errors.ErrCodeIntentSkipped:
		return metrics.OutcomeNoMatch
	case errors.ErrCodeAmbiguousMatch:
		return metrics.OutcomeAmbiguous
	default:
		return metrics.OutcomeError
	}
}
