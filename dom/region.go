package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Region classifies a node by the nearest ancestor carrying a content
// marker class.
type Region uint8

const (
	// RegionUnmarked means no ancestor carries either marker.
	RegionUnmarked Region = iota
	// RegionQuoted is previously received message content.
	RegionQuoted
	// RegionUnquoted is the live compose surface the user is editing.
	RegionUnquoted
)

func (r Region) String() string {
	switch r {
	case RegionQuoted:
		return "quoted"
	case RegionUnquoted:
		return "unquoted"
	default:
		return "unmarked"
	}
}

// Eligible reports whether content in the region may be rewritten. Unmarked
// content is treated as safe.
func (r Region) Eligible() bool { return r != RegionUnquoted }

// Markers names the classes and element that shape scanning.
type Markers struct {
	Quoted   string
	Unquoted string
	// SoftWrap is the tag of the invisible line-break hints inserted into
	// long link text.
	SoftWrap string
}

// DefaultMarkers match Superhuman's compose editor.
var DefaultMarkers = Markers{
	Quoted:   "sh-quoted-content",
	Unquoted: "sh-unquoted-content",
	SoftWrap: "wbr",
}

// RegionClassifier answers closest-marker queries.
type RegionClassifier struct {
	any      cascadia.Matcher
	quoted   cascadia.Matcher
	unquoted cascadia.Matcher
}

// NewRegionClassifier compiles the marker selectors.
func NewRegionClassifier(m Markers) (*RegionClassifier, error) {
	if strings.TrimSpace(m.Quoted) == "" || strings.TrimSpace(m.Unquoted) == "" {
		return nil, fmt.Errorf("dom: quoted and unquoted markers are required")
	}
	quoted, err := cascadia.Compile("." + m.Quoted)
	if err != nil {
		return nil, fmt.Errorf("dom: quoted marker %q: %w", m.Quoted, err)
	}
	unquoted, err := cascadia.Compile("." + m.Unquoted)
	if err != nil {
		return nil, fmt.Errorf("dom: unquoted marker %q: %w", m.Unquoted, err)
	}
	group, err := cascadia.ParseGroup("." + m.Quoted + ", ." + m.Unquoted)
	if err != nil {
		return nil, fmt.Errorf("dom: marker group: %w", err)
	}
	return &RegionClassifier{any: group, quoted: quoted, unquoted: unquoted}, nil
}

// Classify looks upward from n's parent for the nearest marked element. The
// search stops at a shadow root, like Element.closest.
func (c *RegionClassifier) Classify(n *html.Node) Region {
	for p := n.Parent; p != nil; p = p.Parent {
		if IsShadowRoot(p) {
			break
		}
		if p.Type != html.ElementNode || !c.any.Match(p) {
			continue
		}
		if c.quoted.Match(p) {
			return RegionQuoted
		}
		if c.unquoted.Match(p) {
			return RegionUnquoted
		}
	}
	return RegionUnmarked
}

// Eligible reports whether n may be rewritten.
func (c *RegionClassifier) Eligible(n *html.Node) bool {
	return c.Classify(n).Eligible()
}

// IsShadowRoot reports whether n is a declarative shadow root, a <template>
// carrying shadowrootmode.
func IsShadowRoot(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return false
	}
	_, ok := attr(n, "shadowrootmode")
	return ok
}

// ShadowRoot returns the shadow root attached to host, or nil.
func ShadowRoot(host *html.Node) *html.Node {
	if host == nil || host.Type != html.ElementNode {
		return nil
	}
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if IsShadowRoot(c) {
			return c
		}
	}
	return nil
}
