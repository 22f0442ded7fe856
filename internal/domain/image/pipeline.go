package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"

	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/logging"
)

const defaultMaxFileSize = 5 * 1024 * 1024

// Pipeline orchestrates streaming ingestion, validation and decoding of image payloads.
type Pipeline struct {
	validator *SecurityValidator
	logger    *logging.Logger
	security  config.SecurityConfig
	stats     counters
}

// Options configures the pipeline behaviour.
type Options struct {
	Security *config.SecurityConfig
	Logger   *logging.Logger
}

// NewPipeline constructs a streaming image pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Security == nil {
		return nil, fmt.Errorf("security config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	return &Pipeline{
		validator: NewSecurityValidator(opts.Security, opts.Logger),
		logger:    opts.Logger,
		security:  *opts.Security,
	}, nil
}

// Process ingests and decodes in one step. Every failure wraps ErrDecode,
// ErrTooLarge, ErrUnsupportedFormat or ErrSuspiciousContent.
func (p *Pipeline) Process(ctx context.Context, input Input) (*Output, error) {
	payload, err := p.Ingest(ctx, input)
	if err != nil {
		return nil, err
	}
	return p.Decode(payload)
}

// Ingest reads the payload under the size limit, digests it and runs the
// security checks. Pixels are not decoded yet.
func (p *Pipeline) Ingest(ctx context.Context, input Input) (*Payload, error) {
	if closer, ok := input.Reader.(io.Closer); ok {
		defer closer.Close()
	}
	if input.Reader == nil {
		return nil, decodeErr("image reader is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.stats.totalProcessed.Add(1)
	switch input.Kind {
	case SourceURL:
		p.stats.urlDownloads.Add(1)
	case SourceBase64:
		p.stats.base64Payloads.Add(1)
	}

	maxSize := p.security.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	limited := &io.LimitedReader{
		R: input.Reader,
		N: maxSize + 1,
	}

	rawBuf := bytes.NewBuffer(make([]byte, 0, 32*1024))
	hasher := sha256.New()
	writer := io.MultiWriter(rawBuf, hasher)

	if _, err := io.Copy(writer, &contextReader{ctx: ctx, r: limited}); err != nil {
		p.stats.failedValidations.Add(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, decodeErr("stream image bytes: %v", err)
	}

	if limited.N <= 0 {
		p.stats.failedValidations.Add(1)
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, maxSize)
	}

	rawBytes := rawBuf.Bytes()
	validation := p.validator.ValidateBytes(rawBytes, input.DeclaredFormat)
	if !validation.IsValid {
		p.stats.failedValidations.Add(1)
		if validation.SecurityRisk == riskSuspicious {
			p.stats.securityIncidents.Add(1)
		}
		if validation.Error != nil {
			return nil, validation.Error
		}
		return nil, decodeErr("image validation failed")
	}

	return &Payload{
		Raw:    rawBytes,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
		Format: validation.Format,
		Width:  validation.Width,
		Height: validation.Height,
		Source: input.Source,
	}, nil
}

// Decode turns an ingested payload into pixels.
func (p *Pipeline) Decode(payload *Payload) (*Output, error) {
	if payload == nil {
		return nil, decodeErr("payload is required")
	}
	img, format, err := image.Decode(bytes.NewReader(payload.Raw))
	if err != nil {
		p.stats.failedValidations.Add(1)
		return nil, decodeErr("decode %s: %v", payload.Format, err)
	}
	p.stats.decoded.Add(1)

	bounds := img.Bounds()
	p.logger.DebugTag("IMAGE", "decoded source=%s format=%s size=%dx%d bytes=%d",
		payload.Source, format, bounds.Dx(), bounds.Dy(), len(payload.Raw))

	return &Output{
		Image:  img,
		Digest: payload.Digest,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Size:   int64(len(payload.Raw)),
	}, nil
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	return p.stats.snapshot()
}

// contextReader stops a copy as soon as ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
