package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-engine/internal/common/config"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/engine"
	"intent-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

const model = `
id: weather
version: 1.0.0
intents:
  - "intent=weather term(ask)~{# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weather.yaml")
	require.NoError(t, os.WriteFile(path, []byte(model), 0o644))

	return &config.Config{
		App:    config.AppConfig{Name: "intent-engine-test"},
		Engine: config.EngineConfig{StepBudget: 1000, Workers: 2, ModelSource: config.ModelSourceFile, ModelPath: path},
		Conversation: config.ConversationConfig{
			Depth: 3, DialogLimit: 10, Store: config.StoreMemory, KeyPrefix: "test:", TTL: 60000,
		},
		Audit:   config.AuditConfig{ElasticsearchIndex: "intent-resolutions"},
		Metrics: config.MetricsConfig{Address: "127.0.0.1:0"},
	}
}

func weatherTurn(session string) engine.Request {
	return engine.Request{SessionID: session, Variants: []models.Variant{{Entities: []models.Entity{
		{ID: "wt:ask", StartIndex: 0, EndIndex: 0},
		{ID: "geo:city", Groups: []string{"geo"}, Value: "moscow", StartIndex: 1, EndIndex: 1},
	}}}}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	return a
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

// ==========================
// Assembly
// ==========================

func TestNew_MemoryStore(t *testing.T) {
	a := newApp(t, testConfig(t))
	defer a.Shutdown(context.Background())

	res, err := a.Engine().Resolve(context.Background(), weatherTurn("s1"))
	require.NoError(t, err)
	assert.Equal(t, "weather", res.IntentID)
}

func TestNew_ModelLoadFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.ModelPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model")
}

func TestNew_CompileErrorClosesOpenedResources(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Conversation.Store = config.StoreRedis
	cfg.Database.Redis.Address = mr.Addr()

	broken := `
id: weather
version: 1.0.0
intents:
  - "intent=weather term(ask)~{# == 'wt:ask'}[3,1]"
`
	require.NoError(t, os.WriteFile(cfg.Engine.ModelPath, []byte(broken), 0o644))

	a, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	require.Error(t, err)
	assert.Nil(t, a)

	var ce *dsl.CompileError
	assert.ErrorAs(t, err, &ce)
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 },
		time.Second, 10*time.Millisecond, "redis client is closed")
}

func TestNew_ModelIDMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.ModelID = "time"

	_, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	assert.Error(t, err)
}

func TestNew_RedisStoreKeepsConversation(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Conversation.Store = config.StoreRedis
	cfg.Conversation.LockTTL = 5000
	cfg.Database.Redis.Address = mr.Addr()

	a := newApp(t, cfg)
	defer a.Shutdown(context.Background())

	_, err := a.Engine().Resolve(context.Background(), weatherTurn("s1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:s1"))
	assert.False(t, mr.Exists("test:lock:s1"), "session lock is released after the turn")

	// Only the city is new; the ask comes from the stored conversation.
	res, err := a.Engine().Resolve(context.Background(), engine.Request{SessionID: "s1", Variants: []models.Variant{{
		Entities: []models.Entity{{ID: "geo:city", Groups: []string{"geo"}, Value: "paris"}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, "weather", res.IntentID)
}

func TestNew_AuditToElasticsearch(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer es.Close()

	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	cfg.Database.Elasticsearch.URL = es.URL

	a := newApp(t, cfg)
	res, err := a.Engine().Resolve(context.Background(), weatherTurn("s1"))
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "PUT /intent-resolutions/_doc/"+res.RequestID)
}

// ==========================
// HTTP
// ==========================

func TestRoutes_Health(t *testing.T) {
	a := newApp(t, testConfig(t))
	defer a.Shutdown(context.Background())

	code, body := get(t, a.Routes(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["intents"])
}

func TestRoutes_Ready(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Conversation.Store = config.StoreRedis
	cfg.Database.Redis.Address = mr.Addr()

	a := newApp(t, cfg)
	defer a.Shutdown(context.Background())

	code, body := get(t, a.Routes(), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	mr.Close()
	code, body = get(t, a.Routes(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	failed, ok := body["failed"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, failed, "redis")
}

func TestRoutes_Metrics(t *testing.T) {
	a := newApp(t, testConfig(t))
	defer a.Shutdown(context.Background())

	_, err := a.Engine().Resolve(context.Background(), weatherTurn("s1"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intent_resolutions_total")
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestNew_HTTPModelSource(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(model))
	}))
	defer registry.Close()

	cfg := testConfig(t)
	cfg.Engine.ModelSource = config.ModelSourceHTTP
	cfg.Engine.ModelURL = registry.URL + "/models/weather"
	cfg.Engine.ModelToken = "secret"

	a := newApp(t, cfg)
	defer a.Shutdown(context.Background())
	assert.Len(t, a.Engine().Templates(), 1)

	cfg.Engine.ModelToken = ""
	_, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	assert.Error(t, err)
}
