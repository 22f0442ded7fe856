package image

import (
	"fmt"
	"image"
	"io"
	"sync/atomic"

	"chartlens-server-go/internal/platform/errors"
)

var (
	// ErrDecode covers every payload that cannot be turned into pixels.
	ErrDecode = errors.New(errors.KindDecode, "image.decode", "image could not be decoded")
	// ErrTooLarge is returned when the payload or its dimensions exceed the limits.
	ErrTooLarge = errors.New(errors.KindDecode, "image.limits", "image exceeds configured limits")
	// ErrUnsupportedFormat is returned for formats outside the allow-list.
	ErrUnsupportedFormat = errors.New(errors.KindDecode, "image.format", "unsupported image format")
	// ErrSuspiciousContent is returned when the deep scan flags the payload.
	ErrSuspiciousContent = errors.New(errors.KindDecode, "image.scan", "potential malicious content detected")
)

func decodeErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// SourceKind records where a payload came from.
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
	SourceBase64 SourceKind = "base64"
	SourceFile   SourceKind = "file"
)

// Input describes a streaming image payload. Process closes Reader when it
// implements io.Closer.
type Input struct {
	Reader         io.Reader
	DeclaredFormat string
	Source         string
	Kind           SourceKind
}

// Payload is a validated but not yet decoded image. Width, Height and Format
// come from the header only.
type Payload struct {
	Raw    []byte
	Digest string
	Format string
	Width  int
	Height int
	Source string
}

// Output carries the decoded image and facts about the raw payload.
type Output struct {
	Image  image.Image
	Digest string
	Format string
	Width  int
	Height int
	Size   int64
}

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}

// Metrics aggregates pipeline statistics for observability.
type Metrics struct {
	TotalProcessed    int64 `json:"total_processed"`
	Decoded           int64 `json:"decoded"`
	URLDownloads      int64 `json:"url_downloads"`
	Base64Payloads    int64 `json:"base64_payloads"`
	FailedValidations int64 `json:"failed_validations"`
	SecurityIncidents int64 `json:"security_incidents"`
}

type counters struct {
	totalProcessed    atomic.Int64
	decoded           atomic.Int64
	urlDownloads      atomic.Int64
	base64Payloads    atomic.Int64
	failedValidations atomic.Int64
	securityIncidents atomic.Int64
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		TotalProcessed:    c.totalProcessed.Load(),
		Decoded:           c.decoded.Load(),
		URLDownloads:      c.urlDownloads.Load(),
		Base64Payloads:    c.base64Payloads.Load(),
		FailedValidations: c.failedValidations.Load(),
		SecurityIncidents: c.securityIncidents.Load(),
	}
}
