package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Battery storage</title></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Battery storage</h1>
<p>Grid scale battery storage capacity doubled between 2022 and 2024 according to several market reports.</p>
<p>Lithium iron phosphate chemistry dominates new installations because of its lower cost and longer cycle life.</p>
<p>Operators use the batteries mainly for frequency regulation and to shift solar output into the evening peak.</p>
</article>
</body></html>`

func newLocalLoader() *WebLoader {
	return NewWebLoader(NewWebLoaderParams{Guard: &loader.Guard{AllowLoopback: true}})
}

func TestFetchBlocksLoopback(t *testing.T) {
	l := NewWebLoader(NewWebLoaderParams{})
	defer l.Close()

	_, err := l.Fetch(context.Background(), "http://127.0.0.1/admin")
	var blocked *loader.BlockedHostError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedHostError, got %v", err)
	}
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, articleHTML)
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	text, err := l.Fetch(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(text, "Lithium iron phosphate") {
		t.Fatalf("expected article text, got %q", text)
	}
}

func TestFetchPlainTextIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "plain findings\r\n\r\n\r\nmore")
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	for range 2 {
		text, err := l.Fetch(context.Background(), srv.URL+"/notes.txt#frag")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if text != "plain findings\n\nmore" {
			t.Fatalf("unexpected text %q", text)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
}

func TestFetchUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	_, err := l.Fetch(context.Background(), srv.URL)
	var fe *loader.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	_, err := l.Fetch(context.Background(), srv.URL)
	var fe *loader.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusNotFound {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}
}

func TestFetchRedirectToMetadataIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	_, err := l.Fetch(context.Background(), srv.URL)
	var blocked *loader.BlockedHostError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedHostError, got %v", err)
	}
}

func TestFetchPDFDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4\n")
	}))
	defer srv.Close()

	l := newLocalLoader()
	defer l.Close()

	_, err := l.Fetch(context.Background(), srv.URL+"/paper.pdf")
	var fe *loader.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestCloseDropsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	}))
	defer srv.Close()

	l := newLocalLoader()
	for i := range 20 {
		if _, err := l.Fetch(context.Background(), fmt.Sprintf("%s/page/%d", srv.URL, i)); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if got := l.Cached(); got != 20 {
		t.Fatalf("expected 20 cached pages, got %d", got)
	}

	l.Close()
	if got := l.Cached(); got != 0 {
		t.Fatalf("expected empty cache after Close, got %d", got)
	}
}
