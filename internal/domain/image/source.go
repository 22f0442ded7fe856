package image

import (
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chartlens-server-go/internal/platform/errors"
)

// ErrBlockedAddress is returned when a fetch would connect to a loopback,
// private, link-local or unspecified address.
var ErrBlockedAddress = errors.New(errors.KindInput, "image.fetch", "image url resolves to a non-public address")

const defaultMaxRedirects = 5

// FromMultipart opens an uploaded form file. The format hint comes from the
// part's Content-Type, falling back to the filename extension.
func FromMultipart(fh *multipart.FileHeader) (Input, error) {
	if fh == nil {
		return Input{}, decodeErr("missing upload")
	}
	file, err := fh.Open()
	if err != nil {
		return Input{}, decodeErr("open upload %s: %v", fh.Filename, err)
	}

	format := formatFromContentType(fh.Header.Get("Content-Type"))
	if format == "" {
		format = NormalizeFormat(filepath.Ext(fh.Filename))
	}

	return Input{
		Reader:         file,
		DeclaredFormat: format,
		Source:         fh.Filename,
		Kind:           SourceUpload,
	}, nil
}

// FromBase64 accepts either bare base64 or a data URI such as
// "data:image/png;base64,iVBOR...". An image MIME type in the URI overrides
// format; any other media type leaves format alone.
func FromBase64(data, format string) (Input, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return Input{}, decodeErr("missing image payload")
	}

	source := "base64"
	if IsDataURI(data) {
		meta, payload, ok := strings.Cut(data[len("data:"):], ",")
		if !ok {
			return Input{}, decodeErr("malformed data URI")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return Input{}, decodeErr("data URI is not base64 encoded")
		}
		if mediaType := strings.TrimSuffix(meta, ";base64"); mediaType != "" {
			if fromURI := formatFromContentType(mediaType); fromURI != "" {
				format = fromURI
			}
		}
		data = payload
		source = "data-uri"
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return Input{}, decodeErr("decode base64: %v", err)
	}

	return Input{
		Reader:         bytes.NewReader(raw),
		DeclaredFormat: NormalizeFormat(format),
		Source:         source,
		Kind:           SourceBase64,
	}, nil
}

// IsDataURI reports whether s starts with the data: scheme.
func IsDataURI(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

func decodeBase64(data string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, data)

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(cleaned)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// FromFile opens a local image for the command line checker.
func FromFile(path string) (Input, error) {
	file, err := os.Open(path)
	if err != nil {
		return Input{}, decodeErr("open %s: %v", path, err)
	}
	return Input{
		Reader:         file,
		DeclaredFormat: NormalizeFormat(filepath.Ext(path)),
		Source:         path,
		Kind:           SourceFile,
	}, nil
}

// Fetcher downloads remote images over http(s). Connections to non-public
// addresses are refused after DNS resolution, including on redirects.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxRedirects int
	allowPrivate bool
}

// NewFetcher builds a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &Fetcher{
		userAgent:    userAgent,
		maxRedirects: defaultMaxRedirects,
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   f.checkDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// a proxy would make the dial check see the proxy instead of the target
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	f.client = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// AllowPrivateNetworks lifts the address guard. Local development and tests
// against httptest servers need it.
func (f *Fetcher) AllowPrivateNetworks() *Fetcher {
	f.allowPrivate = true
	return f
}

// WithClient swaps the HTTP client, mostly for tests. The address guard only
// applies to the built-in client.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	if client != nil {
		f.client = client
	}
	return f
}

// checkDial runs for every connection attempt with the resolved address.
func (f *Fetcher) checkDial(_, address string, _ syscall.RawConn) error {
	if f.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	if ip == nil || isBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.maxRedirects {
		return decodeErr("stopped after %d redirects", f.maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return decodeErr("redirect to unsupported scheme %q", req.URL.Scheme)
	}
	if ip := net.ParseIP(req.URL.Hostname()); ip != nil && !f.allowPrivate && isBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// Fetch starts the download and returns an Input streaming the response body.
// Transport errors and non-2xx statuses wrap ErrDecode.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Input, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Input{}, decodeErr("invalid image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Input{}, decodeErr("build request: %v", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Input{}, ctxErr
		}
		if stderrors.Is(err, ErrBlockedAddress) {
			return Input{}, fmt.Errorf("fetch %s: %w", u.Redacted(), ErrBlockedAddress)
		}
		if stderrors.Is(err, ErrDecode) {
			return Input{}, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
		}
		return Input{}, decodeErr("fetch %s: %v", u.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return Input{}, decodeErr("fetch %s: %s", u.Redacted(), resp.Status)
	}

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	if format == "" {
		format = NormalizeFormat(filepath.Ext(u.Path))
	}

	return Input{
		Reader:         resp.Body,
		DeclaredFormat: format,
		Source:         u.Redacted(),
		Kind:           SourceURL,
	}, nil
}

func formatFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return ""
	}
	return NormalizeFormat(mediaType)
}

// Describe renders an input for log lines.
func (in Input) Describe() string {
	return fmt.Sprintf("%s:%s", in.Kind, in.Source)
}
