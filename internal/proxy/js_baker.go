package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// serializeScript returns the document with every open shadow root written
// out as a declarative <template shadowrootmode>, so the scanner can reach
// links inside web components. Browsers without getHTML fall back to
// outerHTML.
const serializeScript = `(() => {
  const roots = [];
  const collect = (root) => {
    for (const el of root.querySelectorAll('*')) {
      if (el.shadowRoot) {
        roots.push(el.shadowRoot);
        collect(el.shadowRoot);
      }
    }
  };
  collect(document);
  const html = document.documentElement;
  if (typeof html.getHTML !== 'function') {
    return html.outerHTML;
  }
  return '<html>' + html.getHTML({shadowRoots: roots}) + '</html>';
})()`

type jsBaker struct {
	allocator context.Context
	cancel    context.CancelFunc
	opts      RenderOptions
	logger    *slog.Logger
}

func newJSBaker(opts RenderOptions, logger *slog.Logger) (*jsBaker, error) {
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), flags...)
	logger.Info("proxy: headless browser allocator ready")
	return &jsBaker{
		allocator: allocCtx,
		cancel:    cancel,
		opts:      opts,
		logger:    logger,
	}, nil
}

func (b *jsBaker) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *jsBaker) Fetch(ctx context.Context, target string, hdr http.Header) (*upstreamDocument, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("js fetch: empty target url")
	}
	taskCtx, cancelBrowser := chromedp.NewContext(b.allocator)
	defer cancelBrowser()

	// Bind the browser tab to the caller so an abandoned request stops it.
	var cancel context.CancelFunc
	taskCtx, cancel = context.WithCancel(taskCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	if b.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		taskCtx, cancelTimeout = context.WithTimeout(taskCtx, b.opts.Timeout)
		defer cancelTimeout()
	}

	requestHeaders := cloneHeader(hdr)
	var (
		mu            sync.Mutex
		mainRequestID network.RequestID
		mainStatus    int64
		mainHeaders   = http.Header{}
		finalURL      string
		htmlContent   string
	)

	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type == network.ResourceTypeDocument {
				mu.Lock()
				mainRequestID = e.RequestID
				mu.Unlock()
			}
		case *network.EventResponseReceived:
			mu.Lock()
			defer mu.Unlock()
			if e.RequestID != mainRequestID || e.Type != network.ResourceTypeDocument || e.Response == nil {
				return
			}
			mainStatus = e.Response.Status
			for k, v := range e.Response.Headers {
				mainHeaders.Set(k, fmt.Sprint(v))
			}
		}
	})

	actions := []chromedp.Action{network.Enable()}
	if ua := requestHeaders.Get("User-Agent"); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
		requestHeaders.Del("User-Agent")
	}
	if extra := extraHeaders(requestHeaders); len(extra) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}))
	}

	wait := strings.TrimSpace(b.opts.WaitSelector)
	if wait == "" {
		wait = "body"
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady(wait, chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.Evaluate(serializeScript, &htmlContent),
	)

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("js fetch %s: %w", target, err)
	}
	b.logger.Debug("proxy: rendered page",
		slog.String("url", finalURL),
		slog.Int("bytes", len(htmlContent)),
		slog.Duration("elapsed", time.Since(start)))

	if finalURL == "" {
		finalURL = target
	}
	mu.Lock()
	header := cloneHeader(mainHeaders)
	status := int(mainStatus)
	mu.Unlock()
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Del("Content-Length")
	header.Del("Content-Encoding")
	if status == 0 {
		status = http.StatusOK
	}
	return &upstreamDocument{
		URL:    finalURL,
		Status: status,
		Header: header,
		Body:   []byte("<!DOCTYPE html>" + htmlContent),
	}, nil
}

func extraHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		if name == "Content-Length" || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	return extra
}
