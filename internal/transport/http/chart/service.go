// Package charthttp exposes the chart check service over gin.
package charthttp

import (
	"context"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chartlens-server-go/internal/app/services"
	"chartlens-server-go/internal/domain/chart"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/logging"
	httptransport "chartlens-server-go/internal/transport/http"
)

// Checker is the subset of services.ChartCheckService the handlers need.
type Checker interface {
	Check(ctx context.Context, in domainimage.Input) (verdict.Verdict, error)
	CheckURL(ctx context.Context, rawURL string) (verdict.Verdict, error)
	CheckBatch(ctx context.Context, inputs []domainimage.Input) (*services.BatchResult, error)
	Get(ctx context.Context, id string) (verdict.Verdict, error)
	Recent(ctx context.Context, limit int) ([]verdict.Verdict, error)
	Stats(ctx context.Context) (services.ServiceStats, error)
	DecodeFailureMessage() string
}

// Options configures the chart HTTP service.
type Options struct {
	Checker        Checker
	Logger         *logging.Logger
	AllowedFormats []string
	MaxBatchFiles  int
	// MaxFileSize bounds each image and, with fixed overheads, each request
	// body. Zero leaves bodies unbounded.
	MaxFileSize int64
}

// Request body overheads on top of the image bytes themselves.
const (
	multipartOverhead int64 = 64 << 10
	jsonOverhead      int64 = 4 << 10
	urlBodyLimit      int64 = 16 << 10
	// used for the batch body when MaxBatchFiles is unlimited
	fallbackBatchFiles = 16
)

// Service registers the /chart routes.
type Service struct {
	checker     Checker
	logger      *logging.Logger
	formats     []string
	maxBatch    int
	maxFileSize int64
}

// URLRequest is the body of POST /chart/validate/url.
type URLRequest struct {
	URL string `json:"url"`
}

// Base64Request is the body of POST /chart/validate/base64. Data may be a
// bare payload or a data URI.
type Base64Request struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}

// StatusData is returned by GET /chart.
type StatusData struct {
	Service         string                `json:"service"`
	AcceptThreshold int                   `json:"accept_threshold"`
	Weights         map[string]int        `json:"weights"`
	AllowedFormats  []string              `json:"allowed_formats"`
	MaxBatchFiles   int                   `json:"max_batch_files"`
	Stats           services.ServiceStats `json:"stats"`
}

// NewService validates the options.
func NewService(opts Options) (*Service, error) {
	if opts.Checker == nil {
		return nil, errors.New(errors.KindConfig, "charthttp.new", "chart checker is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Service{
		checker:     opts.Checker,
		logger:      opts.Logger,
		formats:     opts.AllowedFormats,
		maxBatch:    opts.MaxBatchFiles,
		maxFileSize: opts.MaxFileSize,
	}, nil
}

// Register mounts the chart routes.
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	group := router.Group("/chart")
	group.GET("", s.handleStatus)
	group.POST("/validate", s.handleUpload)
	group.POST("/validate/url", s.handleURL)
	group.POST("/validate/base64", s.handleBase64)
	group.POST("/validate/batch", s.handleBatch)
	group.GET("/verdicts", s.handleList)
	group.GET("/verdicts/:id", s.handleGet)

	s.logger.InfoTag("HTTP", "chart routes registered")
	return nil
}

// ParseLimit reads the ?limit query value. Empty means the store default.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(errors.KindInput, "charthttp.limit", "limit must be a non-negative integer")
	}
	return n, nil
}

// handleStatus reports validator settings and service counters.
// @Summary Chart validator status
// @Tags Chart
// @Produce json
// @Success 200 {object} StatusData
// @Router /chart [get]
func (s *Service) handleStatus(c *gin.Context) {
	stats, err := s.checker.Stats(c.Request.Context())
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}

	weights := make(map[string]int, len(chart.Weights))
	for _, w := range chart.Weights {
		weights[string(w.Check)] = w.Points
	}

	httptransport.RespondSuccess(c, http.StatusOK, StatusData{
		Service:         "chart-validator",
		AcceptThreshold: chart.AcceptThreshold,
		Weights:         weights,
		AllowedFormats:  s.formats,
		MaxBatchFiles:   s.maxBatch,
		Stats:           stats,
	}, "")
}

// handleUpload validates a single uploaded image.
// @Summary Validate an uploaded chart screenshot
// @Tags Chart
// @Accept multipart/form-data
// @Produce json
// @Param Authorization header string false "Bearer token"
// @Param file formData file true "image file"
// @Success 200 {object} verdict.Verdict
// @Failure 400 {object} object
// @Failure 413 {object} object
// @Failure 422 {object} object
// @Router /chart/validate [post]
func (s *Service) handleUpload(c *gin.Context) {
	s.limitBody(c, s.uploadLimit(1))
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			s.respondTooLarge(c)
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, "file field is required", nil)
		return
	}
	if s.oversized(fh) {
		s.respondTooLarge(c)
		return
	}

	in, err := domainimage.FromMultipart(fh)
	if err != nil {
		httptransport.RespondErr(c, err, s.checker.DecodeFailureMessage(), nil)
		return
	}

	v, err := s.checker.Check(c.Request.Context(), in)
	s.respondVerdict(c, v, err)
}

// handleURL fetches and validates a remote image.
// @Summary Validate a chart screenshot by URL
// @Tags Chart
// @Accept json
// @Produce json
// @Param request body URLRequest true "image url"
// @Success 200 {object} verdict.Verdict
// @Failure 400 {object} object
// @Failure 413 {object} object
// @Failure 422 {object} object
// @Router /chart/validate/url [post]
func (s *Service) handleURL(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, urlBodyLimit)
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		if isTooLarge(err) {
			httptransport.RespondError(c, http.StatusRequestEntityTooLarge, "request body too large", gin.H{"limit": urlBodyLimit})
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, "url is required", nil)
		return
	}

	v, err := s.checker.CheckURL(c.Request.Context(), strings.TrimSpace(req.URL))
	s.respondVerdict(c, v, err)
}

// handleBase64 validates an inline base64 payload or data URI.
// @Summary Validate a base64 encoded chart screenshot
// @Tags Chart
// @Accept json
// @Produce json
// @Param request body Base64Request true "image payload"
// @Success 200 {object} verdict.Verdict
// @Failure 400 {object} object
// @Failure 413 {object} object
// @Failure 422 {object} object
// @Router /chart/validate/base64 [post]
func (s *Service) handleBase64(c *gin.Context) {
	s.limitBody(c, s.base64Limit())
	var req Base64Request
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Data) == "" {
		if isTooLarge(err) {
			s.respondTooLarge(c)
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, "data is required", nil)
		return
	}

	in, err := domainimage.FromBase64(req.Data, req.Format)
	if err != nil {
		httptransport.RespondErr(c, err, s.checker.DecodeFailureMessage(), nil)
		return
	}

	v, err := s.checker.Check(c.Request.Context(), in)
	s.respondVerdict(c, v, err)
}

// handleBatch validates several uploads at once.
// @Summary Validate several chart screenshots
// @Tags Chart
// @Accept multipart/form-data
// @Produce json
// @Param files[] formData file true "image files"
// @Success 200 {object} services.BatchResult
// @Failure 400 {object} object
// @Failure 413 {object} object
// @Router /chart/validate/batch [post]
func (s *Service) handleBatch(c *gin.Context) {
	files := s.maxBatch
	if files <= 0 {
		files = fallbackBatchFiles
	}
	s.limitBody(c, s.uploadLimit(files))
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			s.respondTooLarge(c)
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, "multipart form is required", nil)
		return
	}

	headers := append([]*multipart.FileHeader{}, form.File["files[]"]...)
	headers = append(headers, form.File["files"]...)
	if len(headers) == 0 {
		httptransport.RespondError(c, http.StatusBadRequest, "files[] field is required", nil)
		return
	}
	if s.maxBatch > 0 && len(headers) > s.maxBatch {
		httptransport.RespondError(c, http.StatusBadRequest, "too many files in batch", gin.H{"limit": s.maxBatch})
		return
	}

	for _, fh := range headers {
		if s.oversized(fh) {
			httptransport.RespondError(c, http.StatusRequestEntityTooLarge, "file exceeds maximum size",
				gin.H{"file": fh.Filename, "limit": s.maxFileSize})
			return
		}
	}

	inputs := make([]domainimage.Input, 0, len(headers))
	for _, fh := range headers {
		in, err := domainimage.FromMultipart(fh)
		if err != nil {
			for _, opened := range inputs {
				closeReader(opened)
			}
			httptransport.RespondErr(c, err, "", gin.H{"file": fh.Filename})
			return
		}
		inputs = append(inputs, in)
	}

	result, err := s.checker.CheckBatch(c.Request.Context(), inputs)
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, result, "batch processed")
}

// handleList returns the newest verdicts.
// @Summary List recent verdicts
// @Tags Chart
// @Produce json
// @Param limit query int false "maximum number of verdicts"
// @Success 200 {array} verdict.Verdict
// @Router /chart/verdicts [get]
func (s *Service) handleList(c *gin.Context) {
	limit, err := ParseLimit(c.Query("limit"))
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}

	list, err := s.checker.Recent(c.Request.Context(), limit)
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}
	if list == nil {
		list = []verdict.Verdict{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, list, "")
}

// handleGet returns one verdict.
// @Summary Get a verdict
// @Tags Chart
// @Produce json
// @Param id path string true "verdict id"
// @Success 200 {object} verdict.Verdict
// @Failure 404 {object} object
// @Router /chart/verdicts/{id} [get]
func (s *Service) handleGet(c *gin.Context) {
	v, err := s.checker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httptransport.RespondErr(c, err, "verdict not found", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, v, "")
}

// respondVerdict writes a verdict. Rejections are successful calls; decode
// failures and degenerate images carry the recorded verdict as data.
func (s *Service) respondVerdict(c *gin.Context, v verdict.Verdict, err error) {
	if err != nil {
		var data interface{}
		message := err.Error()
		if v.ID != "" {
			data = v
			message = v.Reason
		}
		s.logger.DebugTag("CHART", "check failed: %v", err)
		httptransport.RespondErr(c, err, message, data)
		return
	}

	message := "chart accepted"
	if !v.Accepted {
		message = v.Reason
	}
	httptransport.RespondSuccess(c, http.StatusOK, v, message)
}

func (s *Service) limitBody(c *gin.Context, limit int64) {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
}

// uploadLimit bounds a multipart body carrying up to files images.
func (s *Service) uploadLimit(files int) int64 {
	if s.maxFileSize <= 0 {
		return 0
	}
	return int64(files) * (s.maxFileSize + multipartOverhead)
}

// base64Limit bounds a JSON body whose payload encodes at most maxFileSize bytes.
func (s *Service) base64Limit() int64 {
	if s.maxFileSize <= 0 {
		return 0
	}
	return (s.maxFileSize+2)/3*4 + jsonOverhead
}

func (s *Service) oversized(fh *multipart.FileHeader) bool {
	return s.maxFileSize > 0 && fh.Size > s.maxFileSize
}

func (s *Service) respondTooLarge(c *gin.Context) {
	httptransport.RespondError(c, http.StatusRequestEntityTooLarge, "file exceeds maximum size", gin.H{"limit": s.maxFileSize})
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return stderrors.As(err, &tooLarge)
}

func closeReader(in domainimage.Input) {
	if closer, ok := in.Reader.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
