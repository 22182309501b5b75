package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
)

// ErrNotHTML is returned when a page responds with a non-HTML content type.
var ErrNotHTML = errors.New("response is not html")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch %s, status code: %d", e.URL, e.StatusCode)
}

// TooLargeError reports a body over the configured limit where a partial
// body is unusable.
type TooLargeError struct {
	URL   string
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("response from %s exceeds %d bytes", e.URL, e.Limit)
}

type Fetcher struct {
	client        *http.Client
	userAgent     string
	maxBodyBytes  int64
	maxImageBytes int64
	probeTimeout  time.Duration
}

// Response carries a fetched body and the metadata needed downstream.
type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

func NewFetcher(cfg models.FetchConfig) *Fetcher {
	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent:     cfg.UserAgent,
		maxBodyBytes:  cfg.MaxBodyBytes,
		maxImageBytes: cfg.MaxImageBytes,
		probeTimeout:  cfg.ProbeTimeout,
	}
}

// GetHtml fetches a page and returns its body only when the response is HTML.
func (f *Fetcher) GetHtml(ctx context.Context, url string) (*Response, error) {
	resp, err := f.get(ctx, url, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", f.maxBodyBytes, false)
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.ContentType)
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, mediaType)
	}
	return resp, nil
}

// GetImage fetches binary image data. The content type falls back to sniffing.
// Images over the limit fail with *TooLargeError.
func (f *Fetcher) GetImage(ctx context.Context, url string) (*Response, error) {
	resp, err := f.get(ctx, url, "image/*", f.maxImageBytes, true)
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.ContentType)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(resp.Body)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("response from %s is not an image: %s", url, mediaType)
	}
	resp.ContentType = mediaType
	return resp, nil
}

// Probe checks that url answers without downloading it. Servers rejecting HEAD
// get a single-byte ranged GET instead.
func (f *Fetcher) Probe(ctx context.Context, url string) error {
	if f.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.probeTimeout)
		defer cancel()
	}
	status, err := f.probe(ctx, http.MethodHead, url)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented || status == http.StatusForbidden {
		status, err = f.probe(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 400 {
		return &StatusError{URL: url, StatusCode: status}
	}
	return nil
}

func (f *Fetcher) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	return resp.StatusCode, nil
}

// get reads at most limit bytes. Longer bodies are truncated, or rejected
// when strict is set.
func (f *Fetcher) get(ctx context.Context, url, accept string, limit int64, strict bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if limit > 0 && int64(len(bodyBytes)) > limit {
		if strict {
			return nil, &TooLargeError{URL: url, Limit: limit}
		}
		bodyBytes = bodyBytes[:limit]
	}
	return &Response{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        bodyBytes,
	}, nil
}
