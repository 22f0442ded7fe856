package testing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/logging"
)

// SetupTestConfig returns defaults pointed at a per-test directory with the
// in-memory verdict store.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "debug"
	cfg.Log.Dir = t.TempDir()
	cfg.Log.File = "test.log"
	cfg.Store.Driver = "memory"
	cfg.Web.StaticDir = ""
	return cfg
}

// SetupTestLogger builds a logger that writes JSON into a temp dir and
// discards console output.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

var (
	fixtureDark      = color.NRGBA{R: 10, G: 10, B: 10, A: 255}
	fixtureGrid      = color.NRGBA{R: 50, G: 50, B: 50, A: 255}
	fixtureInterface = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
	fixtureGreen     = color.NRGBA{R: 0, G: 200, B: 0, A: 255}
	fixtureRed       = color.NRGBA{R: 200, G: 0, B: 0, A: 255}
	fixturePhoto     = color.NRGBA{R: 120, G: 90, B: 60, A: 255}
)

// ChartFixture draws a 200x100 dark-theme candlestick screenshot that passes
// every heuristic: 4% toolbar, 4% grid, 6% candles, 86% dark background.
func ChartFixture() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	fill(img, image.Rect(0, 0, 200, 100), fixtureDark)
	fill(img, image.Rect(0, 0, 200, 4), fixtureInterface)
	for _, y := range []int{20, 40, 60, 80} {
		fill(img, image.Rect(0, y, 200, y+1), fixtureGrid)
	}
	for i := 0; i < 20; i++ {
		c := fixtureGreen
		if i%2 == 1 {
			c = fixtureRed
		}
		x := i*10 + 2
		fill(img, image.Rect(x, 45, x+6, 55), c)
	}
	return img
}

// PhotoFixture is a square, uniformly brown image that matches no pixel class.
func PhotoFixture() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	fill(img, img.Bounds(), fixturePhoto)
	return img
}

// EncodePNG encodes img and fails the test on error.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// UploadFile is one part of a multipart request built by MultipartRequest.
type UploadFile struct {
	Field string
	Name  string
	Data  []byte
}

// MultipartRequest builds a multipart/form-data request carrying files.
func MultipartRequest(t *testing.T, method, target string, files ...UploadFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}
