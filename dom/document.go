// Package dom finds the anchors and text nodes of an HTML tree that are safe
// to rewrite and applies link rewrites to them. Every write goes through a
// Document so observers see the same mutation records a browser would emit.
package dom

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document owns an HTML tree and the observers attached to it.
type Document struct {
	root      *html.Node
	observers []*Observer
	// MaxFlushRounds bounds how many delivery rounds Flush runs before it
	// gives up on a feedback loop.
	MaxFlushRounds int
}

const defaultMaxFlushRounds = 64

// NewDocument wraps an existing tree.
func NewDocument(root *html.Node) *Document {
	return &Document{root: root, MaxFlushRounds: defaultMaxFlushRounds}
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return NewDocument(root), nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := findElement(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node {
	return findElement(d.root, atom.Head)
}

// Render writes the tree as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// SetAttr sets (or adds) an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	old, had := attr(n, key)
	if had && old == val {
		return
	}
	setAttr(n, key, val)
	d.queue(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: key, OldValue: old})
}

// SetText replaces the data of a text node.
func (d *Document) SetText(n *html.Node, text string) {
	if n.Data == text {
		return
	}
	old := n.Data
	n.Data = text
	d.queue(MutationRecord{Type: MutationCharacterData, Target: n, OldValue: old})
}

// AppendChild attaches child as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	if child.Parent != nil {
		d.RemoveNode(child)
	}
	parent.AppendChild(child)
	d.queue(MutationRecord{Type: MutationChildList, Target: parent, AddedNodes: []*html.Node{child}})
}

// InsertBefore inserts child before ref, which must be a child of parent.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.RemoveNode(child)
	}
	parent.InsertBefore(child, ref)
	d.queue(MutationRecord{Type: MutationChildList, Target: parent, AddedNodes: []*html.Node{child}})
}

// RemoveNode detaches n from its parent.
func (d *Document) RemoveNode(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(n)
	d.queue(MutationRecord{Type: MutationChildList, Target: parent, RemovedNodes: []*html.Node{n}})
}

// Normalize merges adjacent text nodes and drops empty ones in the subtree
// rooted at n, like Node.normalize.
func (d *Document) Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.TextNode:
			for next != nil && next.Type == html.TextNode {
				following := next.NextSibling
				if next.Data != "" {
					d.SetText(c, c.Data+next.Data)
				}
				d.RemoveNode(next)
				next = following
			}
			if c.Data == "" {
				d.RemoveNode(c)
			}
		case c.FirstChild != nil:
			d.Normalize(c)
		}
		c = next
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// Attr returns the value of an attribute, or "" when absent.
func Attr(n *html.Node, key string) string {
	v, _ := attr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
