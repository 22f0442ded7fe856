package charthttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens-server-go/internal/app/services"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/domain/verdict/store"
	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/errors"
	testhelpers "chartlens-server-go/internal/platform/testing"
	httptransport "chartlens-server-go/internal/transport/http"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

func newTestEngine(t *testing.T, maxBatch int, mutate ...func(*config.Config)) *gin.Engine {
	t.Helper()
	cfg := testhelpers.SetupTestConfig(t)
	cfg.Chart.MaxBatchFiles = maxBatch
	for _, fn := range mutate {
		fn(cfg)
	}
	logger := testhelpers.SetupTestLogger(t)

	pipeline, err := domainimage.NewPipeline(domainimage.Options{Security: &cfg.Image.Security, Logger: logger})
	require.NoError(t, err)

	st := store.NewMemory(store.Config{TTL: time.Hour})
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	checker, err := services.NewChartCheckService(services.ChartCheckOptions{
		Pipeline: pipeline,
		Fetcher:  domainimage.NewFetcher(time.Second, "test").AllowPrivateNetworks(),
		Store:    st,
		Logger:   logger,
		Config:   cfg.Chart,
	})
	require.NoError(t, err)

	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)

	svc, err := NewService(Options{
		Checker:        checker,
		Logger:         logger,
		AllowedFormats: cfg.Image.Security.AllowedFormats,
		MaxBatchFiles:  cfg.Chart.MaxBatchFiles,
		MaxFileSize:    cfg.Image.Security.MaxFileSize,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Register(context.Background(), router.Secured))
	return router.Engine
}

func serve(t *testing.T, engine *gin.Engine, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.Code)
	return rec.Code, env
}

func jsonRequest(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	raw, err := sonic.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeVerdict(t *testing.T, env envelope) verdict.Verdict {
	t.Helper()
	var v verdict.Verdict
	require.NoError(t, sonic.Unmarshal(env.Data, &v))
	return v
}

func upload(name string, data []byte) testhelpers.UploadFile {
	return testhelpers.UploadFile{Field: "file", Name: name, Data: data}
}

func TestUploadAcceptsChart(t *testing.T) {
	engine := newTestEngine(t, 4)
	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("chart.png", testhelpers.EncodePNG(t, testhelpers.ChartFixture())))

	code, env := serve(t, engine, req)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "chart accepted", env.Message)

	v := decodeVerdict(t, env)
	assert.True(t, v.Accepted)
	assert.Equal(t, 100, v.Score)
	assert.Equal(t, verdict.OutcomeAccepted, v.Outcome)
	assert.Equal(t, "png", v.Format)
	assert.Equal(t, "chart.png", v.Source)
}

func TestUploadRejectsPhoto(t *testing.T) {
	engine := newTestEngine(t, 4)
	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("cat.png", testhelpers.EncodePNG(t, testhelpers.PhotoFixture())))

	code, env := serve(t, engine, req)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	v := decodeVerdict(t, env)
	assert.False(t, v.Accepted)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, v.Reason, env.Message)
	assert.Equal(t, verdict.OutcomeBelowThreshold, v.Outcome)
}

func TestUploadDecodeFailure(t *testing.T) {
	engine := newTestEngine(t, 4)
	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("broken.png", []byte("definitely not an image")))

	code, env := serve(t, engine, req)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, env.Success)

	v := decodeVerdict(t, env)
	assert.Equal(t, verdict.OutcomeDecodeFailure, v.Outcome)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, v.Reason, env.Message)
}

func TestUploadRequiresFile(t *testing.T) {
	engine := newTestEngine(t, 4)
	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		testhelpers.UploadFile{Field: "other", Name: "x.png", Data: []byte("x")})

	code, env := serve(t, engine, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func smallFiles(cfg *config.Config) {
	cfg.Image.Security.MaxFileSize = 2048
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	engine := newTestEngine(t, 4, smallFiles)

	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("big.png", bytes.Repeat([]byte{0x42}, 8<<10)))
	code, env := serve(t, engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.False(t, env.Success)

	// larger than the whole body budget, so the read itself is cut off
	req = testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("huge.png", bytes.Repeat([]byte{0x42}, 256<<10)))
	code, _ = serve(t, engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestBase64BodyLimit(t *testing.T) {
	engine := newTestEngine(t, 4, smallFiles)

	huge := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 16<<10))
	code, env := serve(t, engine, jsonRequest(t, "/api/chart/validate/base64", Base64Request{Data: huge, Format: "png"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.False(t, env.Success)

	small := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 1000))
	code, _ = serve(t, engine, jsonRequest(t, "/api/chart/validate/base64", Base64Request{Data: small, Format: "png"}))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestURLBodyLimit(t *testing.T) {
	engine := newTestEngine(t, 4)
	long := "http://example.com/" + strings.Repeat("a", 32<<10)

	code, _ := serve(t, engine, jsonRequest(t, "/api/chart/validate/url", URLRequest{URL: long}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestBatchRejectsOversizedFiles(t *testing.T) {
	engine := newTestEngine(t, 2, smallFiles)

	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate/batch",
		testhelpers.UploadFile{Field: "files[]", Name: "ok.png", Data: []byte("tiny")},
		testhelpers.UploadFile{Field: "files[]", Name: "big.png", Data: bytes.Repeat([]byte{0x42}, 8<<10)},
	)
	code, env := serve(t, engine, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	var data map[string]any
	require.NoError(t, sonic.Unmarshal(env.Data, &data))
	assert.Equal(t, "big.png", data["file"])

	req = testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate/batch",
		testhelpers.UploadFile{Field: "files[]", Name: "huge.png", Data: bytes.Repeat([]byte{0x42}, 512<<10)},
	)
	code, _ = serve(t, engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestBase64DataURI(t *testing.T) {
	engine := newTestEngine(t, 4)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testhelpers.EncodePNG(t, testhelpers.ChartFixture()))

	code, env := serve(t, engine, jsonRequest(t, "/api/chart/validate/base64", Base64Request{Data: payload}))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeVerdict(t, env).Accepted)

	code, _ = serve(t, engine, jsonRequest(t, "/api/chart/validate/base64", Base64Request{}))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, engine, jsonRequest(t, "/api/chart/validate/base64", Base64Request{Data: "!!!not base64!!!", Format: "png"}))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestValidateURL(t *testing.T) {
	chartPNG := testhelpers.EncodePNG(t, testhelpers.ChartFixture())
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(chartPNG)
	}))
	t.Cleanup(origin.Close)

	engine := newTestEngine(t, 4)

	code, env := serve(t, engine, jsonRequest(t, "/api/chart/validate/url", URLRequest{URL: origin.URL + "/chart.png"}))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeVerdict(t, env).Accepted)

	code, env = serve(t, engine, jsonRequest(t, "/api/chart/validate/url", URLRequest{URL: origin.URL + "/missing.png"}))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, verdict.OutcomeDecodeFailure, decodeVerdict(t, env).Outcome)

	code, _ = serve(t, engine, jsonRequest(t, "/api/chart/validate/url", URLRequest{URL: "  "}))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBatch(t *testing.T) {
	engine := newTestEngine(t, 2)
	chartPNG := testhelpers.EncodePNG(t, testhelpers.ChartFixture())

	req := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate/batch",
		testhelpers.UploadFile{Field: "files[]", Name: "a.png", Data: chartPNG},
		testhelpers.UploadFile{Field: "files[]", Name: "b.png", Data: []byte("junk")},
	)
	code, env := serve(t, engine, req)
	require.Equal(t, http.StatusOK, code)

	var result services.BatchResult
	require.NoError(t, sonic.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "a.png", result.Items[0].Source)
	assert.NotEmpty(t, result.Items[1].Error)

	tooMany := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate/batch",
		testhelpers.UploadFile{Field: "files[]", Name: "1.png", Data: chartPNG},
		testhelpers.UploadFile{Field: "files[]", Name: "2.png", Data: chartPNG},
		testhelpers.UploadFile{Field: "files[]", Name: "3.png", Data: chartPNG},
	)
	code, _ = serve(t, engine, tooMany)
	assert.Equal(t, http.StatusBadRequest, code)

	empty := testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate/batch")
	code, _ = serve(t, engine, empty)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVerdictLookup(t *testing.T) {
	engine := newTestEngine(t, 4)

	_, env := serve(t, engine, testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("chart.png", testhelpers.EncodePNG(t, testhelpers.ChartFixture()))))
	first := decodeVerdict(t, env)
	_, _ = serve(t, engine, testhelpers.MultipartRequest(t, http.MethodPost, "/api/chart/validate",
		upload("cat.png", testhelpers.EncodePNG(t, testhelpers.PhotoFixture()))))

	code, env := serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts/"+first.ID, nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first.ID, decodeVerdict(t, env).ID)

	code, _ = serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts/unknown", nil))
	assert.Equal(t, http.StatusNotFound, code)

	code, env = serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts", nil))
	require.Equal(t, http.StatusOK, code)
	var list []verdict.Verdict
	require.NoError(t, sonic.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	code, env = serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts?limit=1", nil))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, sonic.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEmptyListIsArray(t *testing.T) {
	engine := newTestEngine(t, 4)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chart/verdicts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"data":[]`), rec.Body.String())
}

func TestStatus(t *testing.T) {
	engine := newTestEngine(t, 4)
	code, env := serve(t, engine, httptest.NewRequest(http.MethodGet, "/api/chart", nil))
	require.Equal(t, http.StatusOK, code)

	var status StatusData
	require.NoError(t, sonic.Unmarshal(env.Data, &status))
	assert.Equal(t, 75, status.AcceptThreshold)
	assert.Equal(t, 35, status.Weights["has_candles"])
	assert.Equal(t, 5, status.Weights["has_proper_ratio"])
	assert.Contains(t, status.AllowedFormats, "png")
	assert.Equal(t, 4, status.MaxBatchFiles)
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{" 25 ", 25, false},
		{"0", 0, false},
		{"-1", 0, true},
		{"ten", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLimit(tc.raw)
		if tc.wantErr {
			require.Error(t, err, tc.raw)
			assert.True(t, errors.IsKind(err, errors.KindInput))
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}
}
