package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chartlens-server-go/internal/domain/chart"
	"chartlens-server-go/internal/domain/eventbus"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/domain/verdict/store"
	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/logging"
	"chartlens-server-go/internal/platform/observability"
)

// DegenerateReason is shown when a decoded image has no usable pixels.
const DegenerateReason = "The image is empty or malformed. Please upload a different screenshot."

// ChartCheckOptions wires the dependencies of ChartCheckService.
type ChartCheckOptions struct {
	Pipeline *domainimage.Pipeline
	Fetcher  *domainimage.Fetcher
	Store    store.Store
	Events   eventbus.Publisher
	Logger   *logging.Logger
	Config   config.ChartConfig
}

// ChartCheckService turns image payloads into recorded verdicts.
type ChartCheckService struct {
	pipeline *domainimage.Pipeline
	fetcher  *domainimage.Fetcher
	store    store.Store
	events   eventbus.Publisher
	logger   *logging.Logger
	cfg      config.ChartConfig
	newID    func() string
	now      func() time.Time
}

// BatchItem is the per-input outcome of CheckBatch. Error is empty unless the
// input failed to decode or was degenerate.
type BatchItem struct {
	Index   int             `json:"index"`
	Source  string          `json:"source,omitempty"`
	Verdict verdict.Verdict `json:"verdict"`
	Error   string          `json:"error,omitempty"`
}

// BatchResult summarises a batch run.
type BatchResult struct {
	BatchID  string      `json:"batch_id"`
	Total    int         `json:"total"`
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Failed   int         `json:"failed"`
	Items    []BatchItem `json:"items"`
}

// ServiceStats is the operational snapshot exposed by the status endpoints.
type ServiceStats struct {
	Store    map[string]any                `json:"store"`
	Pipeline domainimage.Metrics           `json:"pipeline"`
	Metrics  []observability.MetricSummary `json:"metrics"`
}

// NewChartCheckService validates options and fills defaults.
func NewChartCheckService(opts ChartCheckOptions) (*ChartCheckService, error) {
	if opts.Pipeline == nil {
		return nil, errors.New(errors.KindConfig, "chartcheck.new", "image pipeline is required")
	}
	if opts.Store == nil {
		return nil, errors.New(errors.KindConfig, "chartcheck.new", "verdict store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = domainimage.NewFetcher(0, "")
	}
	if opts.Config.RejectMessage == "" {
		opts.Config.RejectMessage = chart.RejectReason
	}
	if opts.Config.DecodeFailureMessage == "" {
		opts.Config.DecodeFailureMessage = config.DefaultDecodeFailureMessage
	}
	if opts.Config.BatchConcurrency <= 0 {
		opts.Config.BatchConcurrency = 4
	}

	return &ChartCheckService{
		pipeline: opts.Pipeline,
		fetcher:  opts.Fetcher,
		store:    opts.Store,
		events:   opts.Events,
		logger:   opts.Logger,
		cfg:      opts.Config,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Check decodes and validates one payload. Decode failures and degenerate
// bitmaps are recorded as verdicts and also returned as errors; a payload that
// merely scores low is not an error.
func (s *ChartCheckService) Check(ctx context.Context, in domainimage.Input) (v verdict.Verdict, err error) {
	ctx, end := observability.StartSpan(ctx, "chart", "check")
	defer func() { end(err) }()

	payload, err := s.pipeline.Ingest(ctx, in)
	if err != nil {
		return s.recordFailure(ctx, in.Source, err)
	}

	// identical bytes skip decoding and scanning
	if cached, ok, cacheErr := s.store.FindByDigest(ctx, payload.Digest); cacheErr != nil {
		s.logger.WarnTag("STORE", "digest lookup failed: %v", cacheErr)
	} else if ok {
		observability.RecordMetric(ctx, "chart.cache.hit", 1, nil)
		s.logger.DebugTag("CHART", "cache hit digest=%s verdict=%s", payload.Digest, cached.ID)
		s.publish(cached, true)
		return cached, nil
	}

	out, err := s.pipeline.Decode(payload)
	if err != nil {
		return s.recordFailure(ctx, in.Source, err)
	}

	bitmap := chart.FromImage(out.Image)
	observability.RecordMetric(ctx, "chart.pixels.scanned", float64(bitmap.Area()), nil)

	res, err := chart.Validate(bitmap)
	if err != nil {
		v = s.baseVerdict(in.Source, out)
		v.Outcome = verdict.OutcomeDegenerateInput
		v.Reason = DegenerateReason
		s.persist(ctx, v)
		s.publish(v, false)
		return v, err
	}

	v = verdict.FromResult(res)
	base := s.baseVerdict(in.Source, out)
	v.ID, v.Digest, v.Source, v.Format = base.ID, base.Digest, base.Source, base.Format
	v.Width, v.Height, v.CreatedAt = base.Width, base.Height, base.CreatedAt
	if !v.Accepted {
		v.Reason = s.cfg.RejectMessage
	}

	s.logger.DebugTag("CHART", "verdict id=%s score=%d candle=%.3f%% dark=%.3f%% grid=%.3f%% interface=%.3f%% ratio=%.3f",
		v.ID, v.Score, res.Metrics.CandlePercentage, res.Metrics.DarkPercentage,
		res.Metrics.GridPercentage, res.Metrics.InterfacePercentage, res.Metrics.AspectRatio)

	labels := map[string]string{"outcome": string(v.Outcome)}
	observability.RecordMetric(ctx, "chart.validate.score", float64(v.Score), labels)
	observability.RecordMetric(ctx, "chart.validate.accepted", boolMetric(v.Accepted), nil)

	s.persist(ctx, v)
	s.publish(v, false)
	return v, nil
}

// CheckURL downloads an image and checks it. Fetch failures are recorded as
// decode failures.
func (s *ChartCheckService) CheckURL(ctx context.Context, rawURL string) (verdict.Verdict, error) {
	in, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return s.recordFailure(ctx, rawURL, err)
	}
	return s.Check(ctx, in)
}

// CheckBatch checks every input with bounded concurrency. A failing item never
// aborts the others; only a cancelled context or an oversized batch does.
func (s *ChartCheckService) CheckBatch(ctx context.Context, inputs []domainimage.Input) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, errors.New(errors.KindInput, "chartcheck.batch", "batch is empty")
	}
	if limit := s.cfg.MaxBatchFiles; limit > 0 && len(inputs) > limit {
		for _, in := range inputs {
			closeInput(in)
		}
		return nil, errors.New(errors.KindInput, "chartcheck.batch", fmt.Sprintf("batch holds %d images, limit is %d", len(inputs), limit))
	}

	result := &BatchResult{
		BatchID: s.newID(),
		Total:   len(inputs),
		Items:   make([]BatchItem, len(inputs)),
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			item := BatchItem{Index: i, Source: in.Source}
			if err := ctx.Err(); err != nil {
				closeInput(in)
				item.Error = err.Error()
				result.Items[i] = item
				return nil
			}
			v, err := s.Check(ctx, in)
			item.Verdict = v
			if err != nil {
				item.Error = err.Error()
			}
			result.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, item := range result.Items {
		switch {
		case item.Error != "":
			result.Failed++
		case item.Verdict.Accepted:
			result.Accepted++
		default:
			result.Rejected++
		}
	}

	s.logger.InfoTag("CHART", "batch %s done total=%d accepted=%d rejected=%d failed=%d",
		result.BatchID, result.Total, result.Accepted, result.Rejected, result.Failed)
	if s.events != nil {
		s.events.PublishAsync(eventbus.EventChartBatch, eventbus.BatchEventData{
			BatchID:  result.BatchID,
			Total:    result.Total,
			Accepted: result.Accepted,
			Failed:   result.Failed,
		})
	}
	return result, nil
}

// Get returns a recorded verdict.
func (s *ChartCheckService) Get(ctx context.Context, id string) (verdict.Verdict, error) {
	return s.store.Get(ctx, id)
}

// Recent lists the newest verdicts.
func (s *ChartCheckService) Recent(ctx context.Context, limit int) ([]verdict.Verdict, error) {
	list, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "chartcheck.recent", "failed to list verdicts", err)
	}
	return list, nil
}

// Stats gathers store, pipeline and metric snapshots.
func (s *ChartCheckService) Stats(ctx context.Context) (ServiceStats, error) {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return ServiceStats{}, errors.Wrap(errors.KindStorage, "chartcheck.stats", "failed to read store stats", err)
	}
	return ServiceStats{
		Store:    storeStats,
		Pipeline: s.pipeline.Metrics(),
		Metrics:  observability.Snapshot(),
	}, nil
}

// DecodeFailureMessage is the user-facing text for unreadable images.
func (s *ChartCheckService) DecodeFailureMessage() string {
	return s.cfg.DecodeFailureMessage
}

func (s *ChartCheckService) recordFailure(ctx context.Context, source string, cause error) (verdict.Verdict, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(cause, ctxErr) {
		return verdict.Verdict{}, cause
	}

	v := verdict.Verdict{
		ID:        s.newID(),
		Source:    source,
		Outcome:   verdict.OutcomeDecodeFailure,
		Reason:    s.cfg.DecodeFailureMessage,
		CreatedAt: s.now(),
	}
	s.logger.InfoTag("CHART", "decode failure source=%s: %v", source, cause)
	observability.RecordMetric(ctx, "chart.decode.failure", 1, nil)

	s.persist(ctx, v)
	s.publish(v, false)
	if errors.KindOf(cause) == errors.KindUnknown {
		cause = errors.Wrap(errors.KindDecode, "chartcheck.decode", "image could not be decoded", cause)
	}
	return v, cause
}

func (s *ChartCheckService) baseVerdict(source string, out *domainimage.Output) verdict.Verdict {
	return verdict.Verdict{
		ID:        s.newID(),
		Digest:    out.Digest,
		Source:    source,
		Format:    out.Format,
		Width:     out.Width,
		Height:    out.Height,
		CreatedAt: s.now(),
	}
}

// persist is best effort: the caller still receives the verdict when the
// store is unavailable.
func (s *ChartCheckService) persist(ctx context.Context, v verdict.Verdict) {
	if err := s.store.Save(ctx, v); err != nil {
		s.logger.ErrorTag("STORE", "save verdict %s failed: %v", v.ID, err)
		if s.events != nil {
			s.events.PublishAsync(eventbus.EventSystemError, eventbus.SystemEventData{
				Level:   "error",
				Message: "verdict not persisted",
				Data:    map[string]string{"verdict_id": v.ID, "error": err.Error()},
			})
		}
	}
}

func (s *ChartCheckService) publish(v verdict.Verdict, cached bool) {
	if s.events == nil {
		return
	}
	s.events.PublishAsync(eventbus.EventChartVerdict, eventbus.VerdictEventData{Verdict: v, Cached: cached})
}

func closeInput(in domainimage.Input) {
	if c, ok := in.Reader.(io.Closer); ok {
		_ = c.Close()
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
