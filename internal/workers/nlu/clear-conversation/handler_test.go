// internal/workers/nlu/clear-conversation/handler_test.go
package clearconversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "intent-engine/internal/common/errors"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/engine"
	"intent-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	b := engine.NewBuilder(engine.Config{Conversation: conversation.Config{Depth: 3}}, logger.NewTestLogger(t))
	require.NoError(t, b.AddIntent(`intent=weather term(ask)~{# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}`, nil))
	e, err := b.Build()
	require.NoError(t, err)
	return e
}

func seed(t *testing.T, e *engine.Engine, sessionID string) {
	t.Helper()
	_, err := e.Resolve(context.Background(), engine.Request{
		SessionID: sessionID,
		Variants: []models.Variant{{Entities: []models.Entity{
			{ID: "wt:ask", StartIndex: 0, EndIndex: 0},
			{ID: "geo:city", Groups: []string{"geo"}, Value: "moscow", StartIndex: 2, EndIndex: 2},
		}}},
	})
	require.NoError(t, err)
}

func createTestHandler(t *testing.T, e *engine.Engine) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, e, logger.NewTestLogger(t))
}

// ==========================
// Execute
// ==========================

func TestExecute_Scopes(t *testing.T) {
	tests := []struct {
		name         string
		input        Input
		wantEntities int
		wantDialog   int
		wantStatus   conversation.Status
	}{
		{
			name:       "all",
			input:      Input{SessionID: "s"},
			wantStatus: conversation.StatusEmpty,
		},
		{
			name:         "all entities",
			input:        Input{SessionID: "s", Scope: ScopeEntities},
			wantEntities: 2,
			wantStatus:   conversation.StatusActive,
		},
		{
			name:         "selected entities",
			input:        Input{SessionID: "s", Scope: ScopeEntities, EntityIDs: []string{"geo:city", "nope"}},
			wantEntities: 1,
			wantStatus:   conversation.StatusActive,
		},
		{
			name:       "dialog of one intent",
			input:      Input{SessionID: "s", Scope: ScopeDialog, IntentIDs: []string{"weather"}},
			wantDialog: 1,
			wantStatus: conversation.StatusActive,
		},
		{
			name:       "dialog of another intent",
			input:      Input{SessionID: "s", Scope: ScopeDialog, IntentIDs: []string{"time"}},
			wantStatus: conversation.StatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := createTestEngine(t)
			seed(t, e, "s")

			out, err := createTestHandler(t, e).Execute(context.Background(), &tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntities, out.RemovedEntities)
			assert.Equal(t, tt.wantDialog, out.RemovedDialog)
			assert.Equal(t, string(tt.wantStatus), out.Status)
		})
	}
}

func TestExecute_UnknownSessionIsCleared(t *testing.T) {
	out, err := createTestHandler(t, createTestEngine(t)).Execute(context.Background(), &Input{SessionID: "never-seen"})
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, out.Scope)
	assert.Equal(t, string(conversation.StatusEmpty), out.Status)
}

func TestExecute_InvalidInput(t *testing.T) {
	h := createTestHandler(t, createTestEngine(t))

	for _, in := range []*Input{nil, {}, {SessionID: "s", Scope: "everything"}} {
		_, err := h.Execute(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, commonerrors.ErrCodeInvalidInput, commonerrors.FromError(err).Code)
	}
}

func TestInputSchema(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		valid     bool
	}{
		{"session only", `{"sessionId": "s"}`, true},
		{"entity scope with ids", `{"sessionId": "s", "scope": "entities", "entityIds": ["geo:city"]}`, true},
		{"missing session", `{"scope": "all"}`, false},
		{"unknown scope", `{"sessionId": "s", "scope": "everything"}`, false},
		{"ids not strings", `{"sessionId": "s", "intentIds": [1]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := inputSchema.ValidateJSON(tt.variables)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, "errors: %v", res.GetErrorMessages())
		})
	}
}
