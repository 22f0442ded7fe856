package bootstrap

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens-server-go/internal/platform/config"
	platformerrors "chartlens-server-go/internal/platform/errors"
	testhelpers "chartlens-server-go/internal/platform/testing"
)

func newTestState(t *testing.T, mutate func(*config.Config)) *appState {
	t.Helper()
	cfg := testhelpers.SetupTestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	return &appState{config: cfg, console: io.Discard}
}

func initState(t *testing.T, state *appState) {
	t.Helper()
	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))
	t.Cleanup(state.close)
}

func newTestHandler(t *testing.T, state *appState) *gin.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine, feed, err := buildHTTPHandler(ctx, state)
	require.NoError(t, err)
	t.Cleanup(feed.Stop)
	return engine
}

func TestInitGraphOrder(t *testing.T) {
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"storage:init-database",
		"store:init-verdicts",
		"events:init-bus",
		"services:init-chart",
		"auth:init-token",
	}
	steps := InitGraph()
	require.Len(t, steps, len(want))
	for i, step := range steps {
		assert.Equal(t, want[i], step.ID)
	}
}

func TestExecuteInitStepsChecksDependencies(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))

	err = executeInitSteps(context.Background(), []initStep{{ID: "a"}}, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))

	err = executeInitSteps(context.Background(), nil, nil)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))
}

func TestExecuteInitStepsWrapsUntypedErrors(t *testing.T) {
	steps := []initStep{{
		ID:      "store:x",
		Kind:    platformerrors.KindStorage,
		Execute: func(context.Context, *appState) error { return io.ErrUnexpectedEOF },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExecuteInitGraphMemory(t *testing.T) {
	state := newTestState(t, nil)
	initState(t, state)

	assert.Equal(t, "preset", state.configPath)
	assert.NotNil(t, state.logger)
	assert.NotNil(t, state.observabilityShutdown)
	assert.Nil(t, state.db)
	assert.NotNil(t, state.store)
	assert.NotNil(t, state.chartService)
	assert.Nil(t, state.authToken)
}

func TestExecuteInitGraphSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "verdicts.db")
	state := newTestState(t, func(cfg *config.Config) {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLite.Path = dbPath
	})
	initState(t, state)

	require.NotNil(t, state.db)
	stats, err := state.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats["type"])
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestExecuteInitGraphRedisNeedsAddr(t *testing.T) {
	state := newTestState(t, func(cfg *config.Config) {
		cfg.Store.Driver = "redis"
		cfg.Store.Redis.Addr = ""
	})
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.close)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	state := newTestState(t, nil)
	initState(t, state)

	logBootstrapGraph(InitGraph(), state.logger)
	require.NoError(t, state.logger.Close())

	data, err := os.ReadFile(filepath.Join(state.config.Log.Dir, state.config.Log.File))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "init graph")
	for _, step := range InitGraph() {
		assert.Contains(t, content, step.ID)
	}
}

func TestHTTPHandlerServesChartRoutes(t *testing.T) {
	state := newTestState(t, nil)
	initState(t, state)
	engine := newTestHandler(t, state)

	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		testhelpers.UploadFile{Field: "file", Name: "chart.png", Data: testhelpers.EncodePNG(t, testhelpers.ChartFixture())})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":true`)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nothing-here", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "api not found")

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chartlens API")
	assert.Contains(t, rec.Body.String(), "/chart/validate")

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/openapi.json"))
}

func TestHTTPHandlerEnforcesAuth(t *testing.T) {
	state := newTestState(t, func(cfg *config.Config) {
		cfg.Server.Token = "server-secret"
		cfg.Server.Auth.Enabled = true
	})
	initState(t, state)
	require.NotNil(t, state.authToken)
	engine := newTestHandler(t, state)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chart", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/verdicts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := bytes.NewBufferString(`{"client_id":"ops","server_token":"server-secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.Token)

	req = httptest.NewRequest(http.MethodGet, "/api/chart", nil)
	req.Header.Set("Authorization", "Bearer "+env.Data.Token)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
