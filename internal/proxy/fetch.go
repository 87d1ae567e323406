package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const maxPageBytes = 10 << 20

// RenderOptions controls how pages are fetched.
type RenderOptions struct {
	// JS renders pages in headless Chrome unless a site config says otherwise.
	JS           bool
	Timeout      time.Duration
	WaitSelector string
	UserAgent    string
}

func defaultRenderOptions() RenderOptions {
	return RenderOptions{
		Timeout:      20 * time.Second,
		WaitSelector: "body",
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	}
}

// upstreamDocument is a fetched page before cleaning.
type upstreamDocument struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher loads the page a user asked the proxy to clean.
type Fetcher interface {
	Fetch(ctx context.Context, target string, hdr http.Header, js bool) (*upstreamDocument, error)
}

// fetcher serves plain requests itself and hands JS requests to a headless
// browser started on first use.
type fetcher struct {
	opts   RenderOptions
	logger *slog.Logger
	client *http.Client

	once   sync.Once
	baker  *jsBaker
	bakErr error
}

func newFetcher(opts RenderOptions, logger *slog.Logger) *fetcher {
	return &fetcher{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (f *fetcher) Fetch(ctx context.Context, target string, hdr http.Header, js bool) (*upstreamDocument, error) {
	hdr = cloneHeader(hdr)
	if hdr.Get("User-Agent") == "" && f.opts.UserAgent != "" {
		hdr.Set("User-Agent", f.opts.UserAgent)
	}
	if !js {
		return f.fetchPlain(ctx, target, hdr)
	}
	f.once.Do(func() {
		f.baker, f.bakErr = newJSBaker(f.opts, f.logger)
	})
	if f.bakErr != nil {
		return nil, f.bakErr
	}
	return f.baker.Fetch(ctx, target, hdr)
}

// Close stops the headless browser.
func (f *fetcher) Close() {
	if f.baker != nil {
		f.baker.Close()
	}
}

func (f *fetcher) fetchPlain(ctx context.Context, target string, hdr http.Header) (*upstreamDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if hdr.Get("Accept") == "" {
		hdr.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	}
	// brotli is not supported; ask for gzip or identity only.
	hdr.Set("Accept-Encoding", "gzip")
	copyHeader(req.Header, hdr)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	header := cloneHeader(resp.Header)
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	return &upstreamDocument{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

func decodeBody(encoding string, r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxPageBytes))
	if err != nil {
		return nil, err
	}
	var dec io.ReadCloser
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		if dec, err = gzip.NewReader(bytes.NewReader(raw)); err != nil {
			return nil, err
		}
	case "deflate":
		// Servers disagree on whether deflate carries the zlib wrapper.
		if dec, err = zlib.NewReader(bytes.NewReader(raw)); err != nil {
			dec = flate.NewReader(bytes.NewReader(raw))
		}
	default:
		return raw, nil
	}
	defer dec.Close()
	return io.ReadAll(io.LimitReader(dec, maxPageBytes))
}
