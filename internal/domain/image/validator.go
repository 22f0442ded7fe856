package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/logging"
)

const (
	riskTooLarge     = "file too large"
	riskFormat       = "unapproved format"
	riskCorrupted    = "corrupted image data"
	riskDimensions   = "dimensions too large"
	riskPixels       = "pixel count too high"
	riskSuspicious   = "suspicious content"
	riskEmptyPayload = "empty payload"
)

var defaultAllowedFormats = []string{"jpeg", "jpg", "png", "webp", "gif", "bmp", "tiff"}

// SecurityValidator performs layered checks against incoming image payloads
// before any full decode happens.
type SecurityValidator struct {
	config *config.SecurityConfig
	logger *logging.Logger
}

// NewSecurityValidator constructs a new validator instance.
func NewSecurityValidator(cfg *config.SecurityConfig, logger *logging.Logger) *SecurityValidator {
	if logger == nil {
		logger = logging.Default()
	}
	return &SecurityValidator{
		config: cfg,
		logger: logger,
	}
}

var imageSignatures = map[string][][]byte{
	"jpeg": {{0xFF, 0xD8}},
	"jpg":  {{0xFF, 0xD8}},
	"png":  {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	"gif":  {{0x47, 0x49, 0x46, 0x38}},
	"webp": {{0x52, 0x49, 0x46, 0x46}},
	"bmp":  {{0x42, 0x4D}},
	"tiff": {{0x49, 0x49, 0x2A, 0x00}, {0x4D, 0x4D, 0x00, 0x2A}},
}

// ValidateBytes validates raw bytes directly.
func (v *SecurityValidator) ValidateBytes(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}
	declaredFormat = NormalizeFormat(declaredFormat)

	if len(raw) == 0 {
		result.Error = decodeErr("empty image payload")
		result.SecurityRisk = riskEmptyPayload
		return result
	}

	if int64(len(raw)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("%w: file size %d bytes (max %d bytes)",
			ErrTooLarge, len(raw), v.config.MaxFileSize)
		result.SecurityRisk = riskTooLarge
		v.logger.WarnTag("IMAGE", "detected oversized image: size=%d max_size=%d format=%s",
			len(raw), v.config.MaxFileSize, declaredFormat)
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("%w: %s", ErrUnsupportedFormat, declaredFormat)
		result.SecurityRisk = riskFormat
		return result
	}

	if v.config.EnableDeepScan && v.scanForMaliciousContent(raw) {
		result.Error = ErrSuspiciousContent
		result.SecurityRisk = riskSuspicious
		return result
	}

	decodeResult := v.validateImageDecoding(raw, declaredFormat)
	if !decodeResult.IsValid {
		if declaredFormat != "" && !v.validateFileSignature(raw, declaredFormat) {
			v.logger.WarnTag("IMAGE", "file signature mismatch: declared_format=%s actual_header=%x",
				declaredFormat, raw[:min(len(raw), 16)])
		}
	}
	return decodeResult
}

// NormalizeFormat lowercases a format name, strips a leading dot or MIME
// prefix and maps aliases onto the names image.Decode reports.
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimPrefix(format, ".")
	format = strings.TrimPrefix(format, "image/")
	if i := strings.IndexByte(format, ';'); i >= 0 {
		format = format[:i]
	}
	switch format {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	case "x-ms-bmp":
		return "bmp"
	}
	return format
}

func (v *SecurityValidator) isFormatAllowed(format string) bool {
	if format == "" {
		return true
	}

	allowed := defaultAllowedFormats
	if v.config != nil && len(v.config.AllowedFormats) > 0 {
		allowed = v.config.AllowedFormats
	}

	format = NormalizeFormat(format)
	for _, allowedFormat := range allowed {
		if NormalizeFormat(allowedFormat) == format {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateFileSignature(raw []byte, format string) bool {
	signatures, ok := imageSignatures[NormalizeFormat(format)]
	if !ok {
		return true
	}
	for _, signature := range signatures {
		if bytes.HasPrefix(raw, signature) {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) scanForMaliciousContent(raw []byte) bool {
	suspiciousSignatures := [][]byte{
		{0x4D, 0x5A},
		{0x7F, 0x45, 0x4C, 0x46},
		{0x25, 0x50, 0x44, 0x46},
	}

	for _, signature := range suspiciousSignatures {
		if bytes.HasPrefix(raw, signature) {
			v.logger.WarnTag("IMAGE", "detected executable signature: signature_hex=%x", signature)
			return true
		}
	}

	compressionSignatures := [][]byte{
		{0x50, 0x4B, 0x03, 0x04},
		{0x1F, 0x8B, 0x08},
	}

	for _, signature := range compressionSignatures {
		if bytes.HasPrefix(raw, signature) {
			v.logger.WarnTag("IMAGE", "detected compressed archive: signature_hex=%x", signature)
			return true
		}
	}

	head := raw[:min(len(raw), 4096)]
	if bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
		return v.checkSVGScripts(string(raw))
	}

	return false
}

func (v *SecurityValidator) checkSVGScripts(content string) bool {
	suspiciousStrings := []string{
		"<script",
		"javascript:",
		"vbscript:",
		"onload=",
		"onerror=",
		"eval(",
		"document.cookie",
		"window.location",
		"<iframe",
		"<object",
		"<embed",
	}

	lower := strings.ToLower(content)
	for _, suspicious := range suspiciousStrings {
		if strings.Contains(lower, suspicious) {
			v.logger.WarnTag("IMAGE", "detected suspicious SVG content: token=%s", suspicious)
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateImageDecoding(raw []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}

	cfg, actualFormat, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		result.Error = decodeErr("decode image config: %v", err)
		result.SecurityRisk = riskCorrupted
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}
	if !v.isFormatAllowed(result.Format) {
		result.Error = fmt.Errorf("%w: %s", ErrUnsupportedFormat, result.Format)
		result.SecurityRisk = riskFormat
		return result
	}

	if cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight {
		result.Error = fmt.Errorf("%w: dimensions %dx%d (max %dx%d)",
			ErrTooLarge, cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = riskDimensions
		return result
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("%w: pixel count %d (max %d)", ErrTooLarge, totalPixels, v.config.MaxPixels)
		result.SecurityRisk = riskPixels
		return result
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(raw))

	v.logger.DebugTag("IMAGE", "image validation success: format=%s width=%d height=%d size=%d",
		result.Format, result.Width, result.Height, result.FileSize)

	return result
}
