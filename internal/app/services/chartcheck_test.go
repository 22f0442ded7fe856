package services

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens-server-go/internal/domain/chart"
	"chartlens-server-go/internal/domain/eventbus"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/domain/verdict/store"
	"chartlens-server-go/internal/platform/errors"
	testhelpers "chartlens-server-go/internal/platform/testing"
)

type harness struct {
	svc    *ChartCheckService
	bus    *eventbus.AsyncEventBus
	mu     sync.Mutex
	events []eventbus.VerdictEventData
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testhelpers.SetupTestConfig(t)
	logger := testhelpers.SetupTestLogger(t)

	pipeline, err := domainimage.NewPipeline(domainimage.Options{Security: &cfg.Image.Security, Logger: logger})
	require.NoError(t, err)

	st := store.NewMemory(store.Config{TTL: time.Hour})
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	bus := eventbus.NewAsyncEventBus(1, logger)
	bus.Start()
	t.Cleanup(bus.Stop)

	svc, err := NewChartCheckService(ChartCheckOptions{
		Pipeline: pipeline,
		Fetcher:  domainimage.NewFetcher(time.Second, "test").AllowPrivateNetworks(),
		Store:    st,
		Events:   bus,
		Logger:   logger,
		Config:   cfg.Chart,
	})
	require.NoError(t, err)

	// strictly increasing clock keeps Recent ordering deterministic
	base := time.Now().UTC().Truncate(time.Second)
	var tick int
	var clockMu sync.Mutex
	svc.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	h := &harness{svc: svc, bus: bus}
	require.NoError(t, bus.Subscribe(eventbus.EventChartVerdict, func(data eventbus.VerdictEventData) {
		h.mu.Lock()
		h.events = append(h.events, data)
		h.mu.Unlock()
	}))
	return h
}

func (h *harness) published() []eventbus.VerdictEventData {
	h.bus.WaitAsync()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]eventbus.VerdictEventData(nil), h.events...)
}

func pngInput(t *testing.T, raw []byte, source string) domainimage.Input {
	t.Helper()
	return domainimage.Input{Reader: bytes.NewReader(raw), DeclaredFormat: "png", Source: source, Kind: domainimage.SourceUpload}
}

func TestCheckAcceptsChart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.svc.Check(ctx, pngInput(t, testhelpers.EncodePNG(t, testhelpers.ChartFixture()), "chart.png"))
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.Equal(t, 100, v.Score)
	assert.Equal(t, verdict.OutcomeAccepted, v.Outcome)
	assert.Empty(t, v.Reason)
	assert.Equal(t, "chart.png", v.Source)
	assert.Equal(t, "png", v.Format)
	assert.Equal(t, 200, v.Width)
	assert.Equal(t, 100, v.Height)
	assert.NotEmpty(t, v.Digest)
	require.NotNil(t, v.Metrics)
	assert.InDelta(t, 6.0, v.Metrics.CandlePercentage, 1e-9)

	stored, err := h.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, stored.ID)

	events := h.published()
	require.Len(t, events, 1)
	assert.Equal(t, v.ID, events[0].Verdict.ID)
	assert.False(t, events[0].Cached)
}

func TestCheckRejectsPhoto(t *testing.T) {
	h := newHarness(t)

	v, err := h.svc.Check(context.Background(), pngInput(t, testhelpers.EncodePNG(t, testhelpers.PhotoFixture()), "cat.png"))
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, verdict.OutcomeBelowThreshold, v.Outcome)
	assert.Equal(t, chart.RejectReason, v.Reason)
}

func TestCheckRecordsDecodeFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.svc.Check(ctx, domainimage.Input{Reader: bytes.NewReader([]byte("garbage")), Source: "broken.png"})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, domainimage.ErrDecode))
	assert.True(t, errors.IsKind(err, errors.KindDecode))

	assert.Equal(t, verdict.OutcomeDecodeFailure, v.Outcome)
	assert.Equal(t, h.svc.DecodeFailureMessage(), v.Reason)
	assert.Zero(t, v.Score)
	assert.Nil(t, v.Metrics)

	stored, err := h.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, verdict.OutcomeDecodeFailure, stored.Outcome)
}

func TestCheckServesCachedVerdict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := testhelpers.EncodePNG(t, testhelpers.ChartFixture())

	first, err := h.svc.Check(ctx, pngInput(t, raw, "a.png"))
	require.NoError(t, err)
	second, err := h.svc.Check(ctx, pngInput(t, raw, "b.png"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	stats := h.svc.pipeline.Metrics()
	assert.EqualValues(t, 2, stats.TotalProcessed)
	assert.EqualValues(t, 1, stats.Decoded, "cached payload must not be decoded again")

	events := h.published()
	require.Len(t, events, 2)
	assert.False(t, events[0].Cached)
	assert.True(t, events[1].Cached)

	recent, err := h.svc.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestCheckURL(t *testing.T) {
	raw := testhelpers.EncodePNG(t, testhelpers.ChartFixture())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chart.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t)
	ctx := context.Background()

	v, err := h.svc.CheckURL(ctx, srv.URL+"/chart.png")
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	missing, err := h.svc.CheckURL(ctx, srv.URL+"/gone.png")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDecode))
	assert.Equal(t, verdict.OutcomeDecodeFailure, missing.Outcome)
	assert.Equal(t, srv.URL+"/gone.png", missing.Source)
}

func TestCheckURLRefusesPrivateAddress(t *testing.T) {
	h := newHarness(t)
	h.svc.fetcher = domainimage.NewFetcher(time.Second, "test")

	v, err := h.svc.CheckURL(context.Background(), "http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, domainimage.ErrBlockedAddress))
	assert.True(t, errors.IsKind(err, errors.KindInput))
	assert.Equal(t, verdict.OutcomeDecodeFailure, v.Outcome)
}

func TestCheckBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inputs := []domainimage.Input{
		pngInput(t, testhelpers.EncodePNG(t, testhelpers.ChartFixture()), "chart.png"),
		{Reader: bytes.NewReader([]byte("nope")), Source: "broken.bin"},
		pngInput(t, testhelpers.EncodePNG(t, testhelpers.PhotoFixture()), "photo.png"),
	}

	res, err := h.svc.CheckBatch(ctx, inputs)
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Failed)

	require.Len(t, res.Items, 3)
	for i, item := range res.Items {
		assert.Equal(t, i, item.Index)
	}
	assert.Equal(t, "chart.png", res.Items[0].Source)
	assert.True(t, res.Items[0].Verdict.Accepted)
	assert.NotEmpty(t, res.Items[1].Error)
	assert.Equal(t, verdict.OutcomeDecodeFailure, res.Items[1].Verdict.Outcome)
	assert.Equal(t, verdict.OutcomeBelowThreshold, res.Items[2].Verdict.Outcome)
}

func TestCheckBatchLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CheckBatch(ctx, nil)
	assert.True(t, errors.IsKind(err, errors.KindInput))

	h.svc.cfg.MaxBatchFiles = 1
	raw := testhelpers.EncodePNG(t, testhelpers.ChartFixture())
	_, err = h.svc.CheckBatch(ctx, []domainimage.Input{pngInput(t, raw, "a"), pngInput(t, raw, "b")})
	assert.True(t, errors.IsKind(err, errors.KindInput))
}

func TestCheckCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := h.svc.Check(ctx, pngInput(t, testhelpers.EncodePNG(t, testhelpers.ChartFixture()), "chart.png"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Empty(t, v.ID)

	_, err = h.svc.CheckBatch(ctx, []domainimage.Input{pngInput(t, nil, "x")})
	assert.True(t, stderrors.Is(err, context.Canceled))

	recent, err := h.svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRecentAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	chartV, err := h.svc.Check(ctx, pngInput(t, testhelpers.EncodePNG(t, testhelpers.ChartFixture()), "chart.png"))
	require.NoError(t, err)
	photoV, err := h.svc.Check(ctx, pngInput(t, testhelpers.EncodePNG(t, testhelpers.PhotoFixture()), "photo.png"))
	require.NoError(t, err)

	recent, err := h.svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, photoV.ID, recent[0].ID)
	assert.Equal(t, chartV.ID, recent[1].ID)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DriverMemory, stats.Store["type"])
	assert.Equal(t, 2, stats.Store["active"])
	assert.Equal(t, 1, stats.Store["accepted"])
	assert.EqualValues(t, 2, stats.Pipeline.Decoded)
}

type saveFailingStore struct {
	store.Store
}

func (saveFailingStore) Save(context.Context, verdict.Verdict) error {
	return stderrors.New("disk full")
}

func TestCheckSurvivesStoreFailure(t *testing.T) {
	cfg := testhelpers.SetupTestConfig(t)
	logger := testhelpers.SetupTestLogger(t)
	pipeline, err := domainimage.NewPipeline(domainimage.Options{Security: &cfg.Image.Security, Logger: logger})
	require.NoError(t, err)

	mem := store.NewMemory(store.Config{TTL: time.Hour})
	t.Cleanup(func() { _ = mem.Close(context.Background()) })

	bus := eventbus.NewAsyncEventBus(1, logger)
	bus.Start()
	t.Cleanup(bus.Stop)

	var mu sync.Mutex
	var systemEvents []eventbus.SystemEventData
	require.NoError(t, bus.Subscribe(eventbus.EventSystemError, func(data eventbus.SystemEventData) {
		mu.Lock()
		systemEvents = append(systemEvents, data)
		mu.Unlock()
	}))

	svc, err := NewChartCheckService(ChartCheckOptions{
		Pipeline: pipeline,
		Fetcher:  domainimage.NewFetcher(time.Second, "test").AllowPrivateNetworks(),
		Store:    saveFailingStore{Store: mem},
		Events:   bus,
		Logger:   logger,
		Config:   cfg.Chart,
	})
	require.NoError(t, err)

	v, err := svc.Check(context.Background(), pngInput(t, testhelpers.EncodePNG(t, testhelpers.ChartFixture()), "chart.png"))
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	bus.WaitAsync()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, systemEvents, 1)
	assert.Equal(t, "error", systemEvents[0].Level)
	assert.Equal(t, "verdict not persisted", systemEvents[0].Message)
}

func TestNewChartCheckServiceRequiresDependencies(t *testing.T) {
	_, err := NewChartCheckService(ChartCheckOptions{})
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	cfg := testhelpers.SetupTestConfig(t)
	pipeline, err := domainimage.NewPipeline(domainimage.Options{Security: &cfg.Image.Security})
	require.NoError(t, err)
	_, err = NewChartCheckService(ChartCheckOptions{Pipeline: pipeline})
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
