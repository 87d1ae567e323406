package proxy

import (
	"fmt"
	"strings"

	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"safelinks/dom"
)

const defaultStylesheet = `
aside[data-safelinks="previews"] {
  border-top: 1px dashed #c60;
  font-size: small;
}
li[data-safelinks-region] {
  cursor: help;
}
`

// ParseStylesheet validates a preview stylesheet and returns it in canonical
// form. At-rules and url() values are refused so a served page never loads
// anything the user did not ask for.
func ParseStylesheet(src string) (string, error) {
	sheet, err := parser.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", fmt.Errorf("preview stylesheet: %w", err)
	}
	if len(sheet.Rules) == 0 {
		return "", fmt.Errorf("preview stylesheet: no rules")
	}
	for _, rule := range sheet.Rules {
		if rule.Kind == cssast.AtRule {
			return "", fmt.Errorf("preview stylesheet: at-rule %s not allowed", rule.Name)
		}
		for _, decl := range rule.Declarations {
			if strings.Contains(strings.ToLower(decl.Value), "url(") {
				return "", fmt.Errorf("preview stylesheet: %s: url() not allowed", decl.Property)
			}
		}
	}
	return sheet.String(), nil
}

// injectStylesheet appends a <style> element to the document head.
func injectStylesheet(doc *dom.Document, css string) {
	parent := doc.Head()
	if parent == nil {
		parent = doc.Body()
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "data-safelinks", Val: "preview"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	doc.AppendChild(parent, style)
}

// injectBase points relative URLs of a fetched page back at its origin.
func injectBase(doc *dom.Document, href string) {
	head := doc.Head()
	if head == nil || href == "" {
		return
	}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Base {
			return
		}
	}
	base := &html.Node{
		Type:     html.ElementNode,
		Data:     "base",
		DataAtom: atom.Base,
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	}
	doc.InsertBefore(head, base, head.FirstChild)
}
