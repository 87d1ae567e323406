// Package cleaner ties a document, its scanner and a mutation guard into one
// page context that keeps wrapped links out of the tree as it changes.
package cleaner

import (
	"fmt"
	"io"
	"log/slog"

	"safelinks/dom"
	"safelinks/guard"
	"safelinks/links"
)

// Option configures a Page.
type Option func(*Page)

// WithMarkers overrides the region marker classes.
func WithMarkers(m dom.Markers) Option {
	return func(p *Page) { p.markers = m }
}

// WithUntangler replaces the default decoder.
func WithUntangler(u dom.Untangler) Option {
	return func(p *Page) { p.untangler = u }
}

// WithLogger sets the logger for the page and its guard.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// WithPreview lists the destinations of links left wrapped in the compose
// region in a panel at the end of <body> after each pass. Entries carry the
// destination in attr; an empty attr means "title".
func WithPreview(attr string) Option {
	return func(p *Page) {
		p.preview = true
		p.previewAttr = attr
	}
}

// Page is one page context.
type Page struct {
	doc       *dom.Document
	scanner   *dom.Scanner
	untangler dom.Untangler
	guard     *guard.Guard
	logger    *slog.Logger
	markers   dom.Markers

	preview     bool
	previewAttr string

	total  dom.Result
	listed int
}

// NewPage prepares doc for cleaning. Nothing is rewritten until Start.
func NewPage(doc *dom.Document, opts ...Option) (*Page, error) {
	p := &Page{doc: doc, markers: dom.DefaultMarkers}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.untangler == nil {
		p.untangler = links.New(links.WithLogger(p.logger))
	}
	s, err := dom.NewScanner(doc, p.markers)
	if err != nil {
		return nil, fmt.Errorf("cleaner: %w", err)
	}
	p.scanner = s
	p.guard = guard.New(p.newObserver, p.rescan, guard.WithLogger(p.logger))
	return p, nil
}

// Document returns the page's document.
func (p *Page) Document() *dom.Document { return p.doc }

// Scanner returns the page's scanner.
func (p *Page) Scanner() *dom.Scanner { return p.scanner }

// Guard returns the page's mutation guard.
func (p *Page) Guard() *guard.Guard { return p.guard }

// Start cleans the whole document once with observation off, then arms the
// guard so later changes under <body> are cleaned as they land.
func (p *Page) Start() error {
	if err := p.guard.Without(p.rescan); err != nil {
		return err
	}
	return p.guard.Enable()
}

// Stop disarms the guard.
func (p *Page) Stop() { p.guard.Disable() }

// RemoveAllLinks runs one pass over the document body and returns what it
// rewrote. It does not suspend observation; use Guard().Without for that.
func (p *Page) RemoveAllLinks() dom.Result {
	res := p.scanner.RemoveAllLinks(p.doc.Body(), p.untangler, nil)
	p.total.Anchors += res.Anchors
	p.total.Texts += res.Texts
	return res
}

// Flush delivers pending mutation records, running any rescans they cause.
func (p *Page) Flush() (int, error) { return p.doc.Flush() }

// Stats returns the rewrites made since the page was created and how many
// links the last pass listed in the preview panel.
func (p *Page) Stats() (dom.Result, int) { return p.total, p.listed }

func (p *Page) rescan() error {
	res := p.RemoveAllLinks()
	if p.preview {
		p.listed = p.scanner.RenderPreviews(p.doc.Body(), p.untangler, p.previewAttr)
	}
	if res.Changed() {
		p.logger.Debug("cleaner: rewrote links", "anchors", res.Anchors, "texts", res.Texts)
	}
	return nil
}

func (p *Page) newObserver(handler func()) (guard.Observer, error) {
	o := p.doc.NewObserver(func([]dom.MutationRecord, *dom.Observer) { handler() })
	return &bodyObserver{doc: p.doc, observer: o}, nil
}

// bodyObserver watches childList changes anywhere under <body>.
type bodyObserver struct {
	doc      *dom.Document
	observer *dom.Observer
}

func (b *bodyObserver) Observe() error {
	b.observer.Observe(b.doc.Body(), dom.ObserveOptions{ChildList: true, Subtree: true})
	return nil
}

func (b *bodyObserver) Disconnect() { b.observer.Disconnect() }

// Clean parses r, cleans it once and renders the result to w.
func Clean(r io.Reader, w io.Writer, opts ...Option) (dom.Result, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return dom.Result{}, fmt.Errorf("cleaner: parse: %w", err)
	}
	p, err := NewPage(doc, opts...)
	if err != nil {
		return dom.Result{}, err
	}
	if err := p.Start(); err != nil {
		return dom.Result{}, err
	}
	p.Stop()
	res, _ := p.Stats()
	if err := doc.Render(w); err != nil {
		return res, fmt.Errorf("cleaner: render: %w", err)
	}
	return res, nil
}
