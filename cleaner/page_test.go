package cleaner

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"safelinks/dom"
	"safelinks/guard"
)

const (
	wrappedHref = "https://nam12.safelinks.protection.outlook.com/?url=https%3A%2F%2Fexample.com%2Fpath&data=xyz"
	cleanHref   = "https://example.com/path"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newPage(t *testing.T, markup string, opts ...Option) *Page {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	p, err := NewPage(doc, append([]Option{WithLogger(quiet())}, opts...)...)
	require.NoError(t, err)
	return p
}

func anchor(href, text string) *html.Node {
	a := &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A, Attr: []html.Attribute{{Key: "href", Val: href}}}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return a
}

func TestStartCleansAndArms(t *testing.T) {
	t.Parallel()
	p := newPage(t, `<body><a id="a" href="`+html.EscapeString(wrappedHref)+`">x</a></body>`)

	require.NoError(t, p.Start())
	assert.Equal(t, guard.Armed, p.Guard().State())

	rounds, err := p.Flush()
	require.NoError(t, err)
	assert.Zero(t, rounds, "initial pass must not queue records")

	res, _ := p.Stats()
	assert.Equal(t, dom.Result{Anchors: 1}, res)
	assert.Contains(t, p.Document().String(), `href="`+cleanHref+`"`)
}

func TestInsertedContentIsCleanedInOneRound(t *testing.T) {
	t.Parallel()
	p := newPage(t, `<body><div id="thread"></div></body>`)
	require.NoError(t, p.Start())
	doc := p.Document()

	div := doc.Body().FirstChild
	doc.AppendChild(div, anchor(wrappedHref, "see "+wrappedHref))

	rounds, err := p.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, rounds)

	a := div.FirstChild
	assert.Equal(t, cleanHref, dom.Attr(a, "href"))
	assert.Equal(t, "see "+cleanHref, a.FirstChild.Data)
	assert.Equal(t, guard.Armed, p.Guard().State())
}

func TestComposeRegionIsLeftAlone(t *testing.T) {
	t.Parallel()
	p := newPage(t, `<body><div class="sh-unquoted-content" id="compose"></div></body>`, WithPreview(""))
	require.NoError(t, p.Start())
	doc := p.Document()

	compose := doc.Body().FirstChild
	doc.AppendChild(compose, anchor(wrappedHref, wrappedHref))
	_, err := p.Flush()
	require.NoError(t, err)

	a := compose.FirstChild
	assert.Equal(t, []html.Attribute{{Key: "href", Val: wrappedHref}}, a.Attr)
	assert.Equal(t, wrappedHref, a.FirstChild.Data)
	assert.Nil(t, a.NextSibling)
	_, listed := p.Stats()
	assert.Equal(t, 1, listed)

	panel := doc.Body().LastChild
	require.Equal(t, dom.PreviewPanel, dom.Attr(panel, "data-safelinks"))
	assert.Equal(t, cleanHref, dom.Attr(panel.FirstChild.FirstChild, "title"))

	rounds, err := p.Flush()
	require.NoError(t, err)
	assert.Zero(t, rounds, "rendering the panel must not queue records")
}

func TestHeadIsNotRewritten(t *testing.T) {
	t.Parallel()
	p := newPage(t, `<html><head><title>`+html.EscapeString(wrappedHref)+`</title></head><body><p>`+html.EscapeString(wrappedHref)+`</p></body></html>`)
	require.NoError(t, p.Start())

	res, _ := p.Stats()
	assert.Equal(t, dom.Result{Texts: 1}, res)
	assert.Equal(t, wrappedHref, p.Document().Head().FirstChild.FirstChild.Data)
	assert.Equal(t, cleanHref, p.Document().Body().FirstChild.FirstChild.Data)
}

func TestStopIgnoresLaterChanges(t *testing.T) {
	t.Parallel()
	p := newPage(t, `<body></body>`)
	require.NoError(t, p.Start())
	p.Stop()

	doc := p.Document()
	doc.AppendChild(doc.Body(), anchor(wrappedHref, "x"))
	rounds, err := p.Flush()
	require.NoError(t, err)
	assert.Zero(t, rounds)
	assert.Equal(t, wrappedHref, dom.Attr(doc.Body().FirstChild, "href"))
}

func TestClean(t *testing.T) {
	t.Parallel()
	in := `<p>Link: <a href="` + html.EscapeString(wrappedHref) + `">here</a></p><p>` + html.EscapeString(wrappedHref) + `</p>`
	var out bytes.Buffer
	res, err := Clean(strings.NewReader(in), &out, WithLogger(quiet()))
	require.NoError(t, err)
	assert.Equal(t, dom.Result{Anchors: 1, Texts: 1}, res)
	assert.NotContains(t, out.String(), "safelinks")
	assert.Equal(t, 2, strings.Count(out.String(), cleanHref))
}

func TestNewPageRejectsBadMarkers(t *testing.T) {
	t.Parallel()
	doc, err := dom.ParseString(`<p></p>`)
	require.NoError(t, err)
	_, err = NewPage(doc, WithMarkers(dom.Markers{}))
	assert.Error(t, err)
}
