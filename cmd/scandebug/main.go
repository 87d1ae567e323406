package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"safelinks/dom"
	"safelinks/links"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: scandebug FILE|URL")
	}
	src := os.Args[1]
	r, err := open(src)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	doc, err := dom.Parse(r)
	if err != nil {
		log.Fatal(err)
	}
	regions, err := dom.NewRegionClassifier(dom.DefaultMarkers)
	if err != nil {
		log.Fatal(err)
	}

	var visit func(n *html.Node, inert bool, depth int)
	visit = func(n *html.Node, inert bool, depth int) {
		switch {
		case n.Type == html.ElementNode && n.DataAtom == atom.A:
			href := dom.Attr(n, "href")
			report("a", href, regions.Classify(n), inert, depth)
		case n.Type == html.TextNode && strings.TrimSpace(n.Data) != "":
			if links.IsWrapped(n.Data) {
				report("text", strings.TrimSpace(n.Data), regions.Classify(n), inert, depth)
			}
		}
		childInert := inert
		if n.Type == html.ElementNode && n.DataAtom == atom.Template && !dom.IsShadowRoot(n) {
			childInert = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, childInert, depth+1)
		}
	}
	visit(doc.Root(), false, 0)
}

func report(kind, value string, region dom.Region, inert bool, depth int) {
	eligible := region.Eligible() && !inert
	format := links.Detect(value)
	fmt.Printf("%-4s depth=%-3d region=%-8s eligible=%-5t format=%-13s %s\n", kind, depth, region, eligible, format, value)
	if format != links.FormatNone {
		fmt.Printf("     -> %s\n", links.Untangle(value))
	}
}

func open(src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(src)
	}
	log.Printf("fetch %s", src)
	req, _ := http.NewRequest(http.MethodGet, src, nil)
	req.Header.Set("User-Agent", "scandebug/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
