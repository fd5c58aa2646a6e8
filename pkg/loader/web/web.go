package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader/pdf"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxBytes     = 10 << 20
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "Mozilla/5.0 (compatible; deepresearch/1.0)"
)

// WebLoader fetches web pages and extracts readable text. HTML goes through
// readability, PDFs through pdftotext, plain text is returned as is.
// Every request, redirect and dial is checked against the Guard.
type WebLoader struct {
	client     *http.Client
	guard      *loader.Guard
	processPDF bool
	maxBytes   int64
	userAgent  string

	cache   map[string]string
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewWebLoaderParams configures a WebLoader. Zero values use the defaults.
type NewWebLoaderParams struct {
	Timeout    time.Duration
	MaxBytes   int64
	ProcessPDF bool
	UserAgent  string
	Guard      *loader.Guard
}

// NewWebLoader creates a WebLoader with its own guarded HTTP client.
func NewWebLoader(params NewWebLoaderParams) *WebLoader {
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	if params.MaxBytes <= 0 {
		params.MaxBytes = DefaultMaxBytes
	}
	if params.UserAgent == "" {
		params.UserAgent = DefaultUserAgent
	}
	if params.Guard == nil {
		params.Guard = loader.NewGuard()
	}

	dialer := &net.Dialer{
		Timeout:   params.Timeout,
		KeepAlive: 30 * time.Second,
		Control:   params.Guard.Control,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// a proxy would dial on our behalf and bypass the address check
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	l := &WebLoader{
		guard:      params.Guard,
		processPDF: params.ProcessPDF,
		maxBytes:   params.MaxBytes,
		userAgent:  params.UserAgent,
		cache:      make(map[string]string),
	}
	l.client = &http.Client{
		Timeout:   params.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= DefaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", DefaultMaxRedirects)
			}
			return l.guard.CheckURL(req.Context(), req.URL)
		},
	}
	return l
}

// Close releases idle connections and drops the page cache.
func (l *WebLoader) Close() {
	l.client.CloseIdleConnections()

	l.cacheMu.Lock()
	clear(l.cache)
	l.cacheMu.Unlock()
}

// Cached reports the number of cached pages.
func (l *WebLoader) Cached() int {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	return len(l.cache)
}

// Fetch retrieves rawURL and returns its extracted text.
func (l *WebLoader) Fetch(ctx context.Context, rawURL string) (string, error) {
	key := loader.CacheKey(rawURL)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		text, err := l.fetch(ctx, rawURL)
		if err != nil {
			return "", err
		}

		l.cacheMu.Lock()
		l.cache[key] = text
		l.cacheMu.Unlock()

		return text, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

func (l *WebLoader) fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", &loader.FetchError{URL: rawURL, Err: fmt.Errorf("failed to parse url: %w", err)}
	}
	if err := l.guard.CheckURL(ctx, u); err != nil {
		logger.Warn("[Loader] URL refused", "url", rawURL, "err", err)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", &loader.FetchError{URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,text/plain;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		var blocked *loader.BlockedHostError
		if errors.As(err, &blocked) {
			blocked.URL = rawURL
			logger.Warn("[Loader] URL refused", "url", rawURL, "err", blocked)
			return "", blocked
		}
		return "", &loader.FetchError{URL: rawURL, Err: fmt.Errorf("failed to fetch url: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &loader.FetchError{URL: rawURL, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes))
	if err != nil {
		return "", &loader.FetchError{URL: rawURL, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	text, err := l.extract(ctx, resp.Request.URL, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", &loader.FetchError{URL: rawURL, Err: err}
	}
	text = loader.NormalizeText(text)
	if text == "" {
		return "", &loader.FetchError{URL: rawURL, Err: errors.New("no readable text")}
	}

	logger.Debug("[Loader] Fetched", "url", rawURL, "chars", len(text))
	return text, nil
}

func (l *WebLoader) extract(ctx context.Context, u *url.URL, contentType string, body []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(body))
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		article, err := readability.FromReader(strings.NewReader(string(body)), u)
		if err != nil {
			return "", fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return "", fmt.Errorf("failed to render article text: %w", err)
		}
		return builder.String(), nil
	case "application/pdf":
		if !l.processPDF {
			return "", errors.New("pdf processing disabled")
		}
		return pdf.Extract(ctx, body)
	case "text/plain":
		return string(body), nil
	}
	return "", fmt.Errorf("unsupported content type %q", mediaType)
}
