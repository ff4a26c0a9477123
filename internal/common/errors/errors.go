// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/engine"
	"intent-engine/internal/intent/macro"
	"intent-engine/internal/intent/selector"
	"intent-engine/internal/intent/solver"
	"intent-engine/pkg/registry"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeCompileError ErrorCode = "COMPILE_ERROR"
	ErrCodeCyclicMacro  ErrorCode = "CYCLIC_MACRO"

	ErrCodeTimeoutExceeded ErrorCode = "TIMEOUT_EXCEEDED"
	ErrCodeNoMatchFound    ErrorCode = "NO_MATCH_FOUND"
	ErrCodeAmbiguousMatch  ErrorCode = "AMBIGUOUS_MATCH"
	ErrCodeIntentSkipped   ErrorCode = "INTENT_SKIPPED"
	ErrCodeHandlerFailed   ErrorCode = "INTENT_HANDLER_FAILED"

	ErrCodeSessionStoreFailed ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeModelLoadFailed    ErrorCode = "MODEL_LOAD_FAILED"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"

	ErrCodeAuditPublishFailed ErrorCode = "AUDIT_PUBLISH_FAILED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError creates a non-retryable input error.
func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid resolution request", details, false)
}

// NewNoMatchFoundError reports a turn no intent could explain.
func NewNoMatchFoundError(timedOut []string) *StandardError {
	e := newError(ErrCodeNoMatchFound, "No intent matched the request", "", false)
	if len(timedOut) > 0 {
		e.Details = "timed out: " + strings.Join(timedOut, ", ")
		e.Metadata = map[string]interface{}{"timedOut": timedOut}
	}
	return e
}

// NewAmbiguousMatchError reports tied intents.
func NewAmbiguousMatchError(intentIDs []string) *StandardError {
	e := newError(ErrCodeAmbiguousMatch, "More than one intent matched equally well",
		strings.Join(intentIDs, ", "), false)
	e.Metadata = map[string]interface{}{"intentIds": intentIDs}
	return e
}

func NewCompileError(err error) *StandardError {
	return newError(ErrCodeCompileError, "Intent template failed to compile", err.Error(), false)
}

func NewCyclicMacroError(err error) *StandardError {
	return newError(ErrCodeCyclicMacro, "Macro definitions are cyclic", err.Error(), false)
}

// NewTimeoutExceededError creates a retryable solver timeout.
func NewTimeoutExceededError(err error) *StandardError {
	return newError(ErrCodeTimeoutExceeded, "Term matching exceeded its step budget", err.Error(), true)
}

func NewIntentSkippedError(details string) *StandardError {
	return newError(ErrCodeIntentSkipped, "Every matching intent was skipped", details, false)
}

func NewHandlerFailedError(err error) *StandardError {
	return newError(ErrCodeHandlerFailed, "Intent handler failed", err.Error(), true)
}

// NewSessionStoreFailedError creates a retryable conversation store error.
func NewSessionStoreFailedError(err error) *StandardError {
	return newError(ErrCodeSessionStoreFailed, "Conversation store unavailable", err.Error(), true)
}

func NewModelLoadFailedError(err error) *StandardError {
	return newError(ErrCodeModelLoadFailed, "Intent model could not be loaded", err.Error(), false)
}

// NewAuditPublishFailedError creates a retryable audit sink error.
func NewAuditPublishFailedError(sink string, err error) *StandardError {
	e := newError(ErrCodeAuditPublishFailed, "Failed to publish resolution event", err.Error(), true)
	e.Metadata = map[string]interface{}{"sink": sink}
	return e
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// FromError normalizes any engine error into a StandardError. nil stays nil.
func FromError(err error) *StandardError {
	if err == nil {
		return nil
	}

	var (
		std     *StandardError
		failure *selector.MatchFailure
		compile *dsl.CompileError
		cyclic  *macro.CyclicMacroError
	)
	switch {
	case stderrors.As(err, &std):
		return std
	case stderrors.As(err, &failure):
		if failure.Kind == selector.AmbiguousMatch {
			return NewAmbiguousMatchError(failure.IntentIDs)
		}
		return NewNoMatchFoundError(failure.TimedOut)
	case stderrors.As(err, &compile):
		return NewCompileError(err)
	case stderrors.As(err, &cyclic):
		return NewCyclicMacroError(err)
	case stderrors.Is(err, engine.ErrInvalidRequest):
		return NewInvalidInputError(err.Error())
	case stderrors.Is(err, engine.ErrIntentSkip):
		return NewIntentSkippedError(err.Error())
	case stderrors.Is(err, conversation.ErrStoreFailed):
		return NewSessionStoreFailedError(err)
	case stderrors.Is(err, registry.ErrInvalidModel):
		return NewModelLoadFailedError(err)
	case stderrors.Is(err, solver.ErrTimeoutExceeded):
		return NewTimeoutExceededError(err)
	case stderrors.Is(err, engine.ErrHandlerFailed):
		return NewHandlerFailedError(err)
	default:
		return NewInternalError(err)
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. Codes not
// listed are passed through unchanged.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeNoMatchFound:       "NO_MATCH_FOUND",
	ErrCodeAmbiguousMatch:     "AMBIGUOUS_MATCH",
	ErrCodeIntentSkipped:      "NO_MATCH_FOUND",
	ErrCodeInvalidInput:       "INVALID_INPUT",
	ErrCodeTimeoutExceeded:    "TIMEOUT_EXCEEDED",
	ErrCodeSessionStoreFailed: "SESSION_STORE_FAILED",
	ErrCodeModelLoadFailed:    "MODEL_LOAD_FAILED",
	ErrCodeCompileError:       "MODEL_LOAD_FAILED",
	ErrCodeCyclicMacro:        "MODEL_LOAD_FAILED",
	ErrCodeHandlerFailed:      "INTENT_HANDLER_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSessionStoreFailed,
		ErrCodeAuditPublishFailed:
		return 3

	case ErrCodeTimeoutExceeded,
		ErrCodeHandlerFailed:
		return 1

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeCompileError, ErrCodeCyclicMacro, ErrCodeModelLoadFailed:
		return "MODEL"
	case ErrCodeNoMatchFound, ErrCodeAmbiguousMatch, ErrCodeIntentSkipped, ErrCodeTimeoutExceeded:
		return "MATCHING"
	case ErrCodeSessionStoreFailed:
		return "CONVERSATION"
	case ErrCodeAuditPublishFailed:
		return "AUDIT"
	case ErrCodeInvalidInput:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
