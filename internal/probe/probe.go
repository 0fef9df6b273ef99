package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// sniffBytes is how much of the body is read for magic-byte matching.
	sniffBytes = 262

	// maxLineBytes bounds playlist reads.
	maxLineBytes = 64 * 1024

	genericType = "application/octet-stream"
)

// Errors returned by the Client.
var (
	ErrStatus    = errors.New("probe: unexpected status")
	ErrEmptyBody = errors.New("probe: empty playlist")
)

// Options configures a Client.
type Options struct {
	// RetryMax is the number of retries after the first attempt.
	RetryMax int

	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// Client implements the cast controller's Prober.
type Client struct {
	http      *retryablehttp.Client
	userAgent string
}

// New creates a Client.
func New(opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.Logger = nil
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	// Hand the last response back instead of a "giving up" error so the
	// caller sees the real status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	ua := opts.UserAgent
	if ua == "" {
		ua = "graycast"
	}
	return &Client{http: rc, userAgent: ua}
}

func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// Head returns the status code and content type of rawURL.
//
// A missing or generic content type on a 200 response is filled in from
// the URL's extension or, when that is unknown, from the first bytes of
// the body.
func (c *Client) Head(ctx context.Context, rawURL string) (int, string, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	_ = resp.Body.Close()

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || !isGeneric(contentType) {
		return resp.StatusCode, contentType, nil
	}

	if t := byExtension(rawURL); t != "" {
		return resp.StatusCode, t, nil
	}
	if t := c.sniff(ctx, rawURL); t != "" {
		return resp.StatusCode, t, nil
	}
	if contentType == "" {
		contentType = genericType
	}
	return resp.StatusCode, contentType, nil
}

// sniff matches the magic bytes at the start of rawURL. Failures yield "".
func (c *Client) sniff(ctx context.Context, rawURL string) string {
	resp, err := c.do(ctx, http.MethodGet, rawURL, http.Header{"Range": {fmt.Sprintf("bytes=0-%d", sniffBytes-1)}})
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return ""
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	if err != nil && len(buf) == 0 {
		return ""
	}
	kind, err := filetype.Match(buf)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// FirstLine fetches rawURL and returns its first non-empty line, trimmed.
func (c *Client) FirstLine(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: GET %s returned %d", ErrStatus, rawURL, resp.StatusCode)
	}

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxLineBytes))
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return "", ErrEmptyBody
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.TrimSpace(header)
	}
	return mt
}

func isGeneric(contentType string) bool {
	return contentType == "" || contentType == genericType || contentType == "binary/octet-stream"
}

// byExtension maps the URL path's extension to a MIME type, or "".
func byExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" {
		return ""
	}
	kind := filetype.GetType(ext)
	if kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
