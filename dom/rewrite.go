package dom

import (
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Untangler decodes wrapped links.
type Untangler interface {
	Untangle(s string) string
	IsWrapped(s string) bool
}

// Result counts the rewrites made by one pass.
type Result struct {
	Anchors int
	Texts   int
}

// Changed reports whether anything was rewritten.
func (r Result) Changed() bool { return r.Anchors > 0 || r.Texts > 0 }

// RewriteFunc observes a single rewrite.
type RewriteFunc func(n *html.Node, before, after string)

// RemoveAllLinks rewrites the href of every eligible wrapped anchor under
// root, then the content of every eligible text node. onRewrite may be nil.
func (s *Scanner) RemoveAllLinks(root *html.Node, u Untangler, onRewrite RewriteFunc) Result {
	var res Result
	for a := range s.Anchors(root) {
		href, ok := attr(a, "href")
		if !ok || !u.IsWrapped(href) {
			continue
		}
		dest := u.Untangle(href)
		if dest == href {
			continue
		}
		s.doc.SetAttr(a, "href", dest)
		res.Anchors++
		if onRewrite != nil {
			onRewrite(a, href, dest)
		}
	}
	for t := range s.TextNodes(root) {
		if !u.IsWrapped(t.Data) {
			continue
		}
		text := u.Untangle(t.Data)
		if text == t.Data {
			continue
		}
		before := t.Data
		s.doc.SetText(t, text)
		res.Texts++
		if onRewrite != nil {
			onRewrite(t, before, text)
		}
	}
	return res
}

// PreviewPanel is the value of the data-safelinks attribute on the element
// RenderPreviews appends.
const PreviewPanel = "previews"

// RenderPreviews lists the decoded destination of every anchor under root
// that still points at a wrapped link, which after RemoveAllLinks are those
// in the compose region. The list is an <aside> appended to root, replacing
// any earlier one, and the anchors themselves are never written. Each entry
// carries the destination in attrName and the region that kept the link
// wrapped in data-safelinks-region. It returns the number of entries; when
// root itself lies in the compose region no list is rendered.
func (s *Scanner) RenderPreviews(root *html.Node, u Untangler, attrName string) int {
	if root == nil {
		return 0
	}
	if attrName == "" {
		attrName = "title"
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && Attr(c, "data-safelinks") == PreviewPanel {
			s.doc.RemoveNode(c)
			break
		}
	}
	// Region a new last child of root would land in.
	if !s.regions.Eligible(&html.Node{Parent: root}) {
		return 0
	}

	list := &html.Node{Type: html.ElementNode, Data: "ol", DataAtom: atom.Ol}
	n := 0
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.A {
			if href, ok := attr(node, "href"); ok && u.IsWrapped(href) {
				dest := u.Untangle(href)
				code := &html.Node{Type: html.ElementNode, Data: "code", DataAtom: atom.Code}
				code.AppendChild(&html.Node{Type: html.TextNode, Data: dest})
				item := &html.Node{Type: html.ElementNode, Data: "li", DataAtom: atom.Li, Attr: []html.Attribute{
					{Key: attrName, Val: dest},
					{Key: "data-safelinks-region", Val: s.regions.Classify(node).String()},
				}}
				item.AppendChild(code)
				list.AppendChild(item)
				n++
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Template && !IsShadowRoot(c) {
				continue
			}
			visit(c)
		}
	}
	visit(root)
	if n == 0 {
		return 0
	}

	panel := &html.Node{Type: html.ElementNode, Data: "aside", DataAtom: atom.Aside, Attr: []html.Attribute{
		{Key: "data-safelinks", Val: PreviewPanel},
	}}
	panel.AppendChild(list)
	s.doc.AppendChild(root, panel)
	return n
}

func (r Result) String() string {
	return fmt.Sprintf("anchors=%d texts=%d", r.Anchors, r.Texts)
}
