package dom

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Scanner walks a Document and yields the nodes that may be rewritten.
type Scanner struct {
	doc      *Document
	regions  *RegionClassifier
	softWrap string
}

// NewScanner returns a Scanner for doc using the given markers.
func NewScanner(doc *Document, m Markers) (*Scanner, error) {
	regions, err := NewRegionClassifier(m)
	if err != nil {
		return nil, err
	}
	softWrap := strings.ToLower(strings.TrimSpace(m.SoftWrap))
	if softWrap == "" {
		softWrap = DefaultMarkers.SoftWrap
	}
	return &Scanner{doc: doc, regions: regions, softWrap: softWrap}, nil
}

// Document returns the scanned document.
func (s *Scanner) Document() *Document { return s.doc }

// Regions returns the classifier used to exclude compose content.
func (s *Scanner) Regions() *RegionClassifier { return s.regions }

// Anchors yields the eligible <a> elements under root, descending into
// shadow roots. The sequence can be ranged over once.
func (s *Scanner) Anchors(root *html.Node) iter.Seq[*html.Node] {
	return s.walk(root, func(n *html.Node) (yield, descend bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			return s.regions.Eligible(n), false
		}
		return false, true
	})
}

// TextNodes yields the eligible text nodes under root, descending into
// shadow roots. Soft-wrap elements inside eligible anchors are removed and
// the text around them merged before the anchor's text is yielded. The
// sequence can be ranged over once.
func (s *Scanner) TextNodes(root *html.Node) iter.Seq[*html.Node] {
	return s.walk(root, func(n *html.Node) (yield, descend bool) {
		switch n.Type {
		case html.TextNode:
			return s.regions.Eligible(n), false
		case html.ElementNode:
			if n.DataAtom == atom.A && n.FirstChild != nil && s.regions.Eligible(n) {
				s.joinSoftWrapped(n)
			}
		}
		return false, true
	})
}

// walk is an explicit-stack depth-first traversal. visit decides whether a
// node is yielded and whether its children are explored.
func (s *Scanner) walk(root *html.Node, visit func(*html.Node) (yield, descend bool)) iter.Seq[*html.Node] {
	used := false
	return func(yield func(*html.Node) bool) {
		if used || root == nil {
			return
		}
		used = true

		stack := []*html.Node{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			emit, descend := visit(n)
			if emit && !yield(n) {
				return
			}
			if !descend || !hasChildren(n) {
				continue
			}
			mark := len(stack)
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				// Template content is inert; shadow roots are pushed below.
				if c.Type == html.ElementNode && c.DataAtom == atom.Template {
					continue
				}
				stack = append(stack, c)
			}
			reverse(stack[mark:])
			if sr := ShadowRoot(n); sr != nil {
				stack = append(stack, sr)
			}
		}
	}
}

func hasChildren(n *html.Node) bool {
	switch n.Type {
	case html.ElementNode, html.DocumentNode:
		return n.FirstChild != nil
	}
	return false
}

func reverse(nodes []*html.Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

// joinSoftWrapped removes soft-wrap elements inside anchor and merges the
// text fragments they separated.
func (s *Scanner) joinSoftWrapped(anchor *html.Node) {
	var hints []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, s.softWrap) {
				hints = append(hints, c)
				continue
			}
			collect(c)
		}
	}
	collect(anchor)
	if len(hints) == 0 {
		return
	}
	for _, h := range hints {
		s.doc.RemoveNode(h)
	}
	s.doc.Normalize(anchor)
}
