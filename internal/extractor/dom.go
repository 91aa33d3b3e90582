package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/harvester/internal/crawler"
)

const xpathPrefix = "xpath:"

var (
	cssSuffix = regexp.MustCompile(`::(text|attr\(\s*([^)\s]+)\s*\))\s*$`)
	xpathAttr = regexp.MustCompile(`/@([A-Za-z_][\w:.-]*)\s*$`)
)

// urlAttrs are resolved against the page URL.
var urlAttrs = map[string]bool{
	"src":      true,
	"href":     true,
	"srcset":   true,
	"data-src": true,
}

// Selector is a compiled field or record selector: CSS with an optional
// ::text or ::attr(name) suffix, or an XPath expression prefixed with "xpath:".
type Selector struct {
	Raw   string
	css   cascadia.Selector
	xpath *xpath.Expr
	// attr is the attribute to read; empty means the element text.
	attr string
}

// ParseSelector compiles raw.
func ParseSelector(raw string) (Selector, error) {
	s := Selector{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return s, errors.New("empty selector")
	}
	if expr, ok := strings.CutPrefix(trimmed, xpathPrefix); ok {
		compiled, err := xpath.Compile(strings.TrimSpace(expr))
		if err != nil {
			return s, fmt.Errorf("compile xpath %q: %w", expr, err)
		}
		s.xpath = compiled
		if m := xpathAttr.FindStringSubmatch(expr); m != nil {
			s.attr = strings.ToLower(m[1])
		}
		return s, nil
	}
	if m := cssSuffix.FindStringSubmatchIndex(trimmed); m != nil {
		if m[4] >= 0 {
			s.attr = strings.ToLower(trimmed[m[4]:m[5]])
		}
		trimmed = strings.TrimSpace(trimmed[:m[0]])
	}
	compiled, err := cascadia.Compile(trimmed)
	if err != nil {
		return s, fmt.Errorf("compile css %q: %w", trimmed, err)
	}
	s.css = compiled
	return s, nil
}

// match returns the nodes under scope selected by s.
func (s Selector) match(scope *goquery.Selection) []*html.Node {
	if s.xpath != nil {
		var out []*html.Node
		for _, n := range scope.Nodes {
			out = append(out, htmlquery.QuerySelectorAll(n, s.xpath)...)
		}
		return out
	}
	return scope.FindMatcher(s.css).Nodes
}

// value reads the text or attribute of n. A missing attribute reports false.
func (s Selector) value(n *html.Node) (string, bool) {
	if s.xpath != nil {
		// Attribute selections come back as synthetic element nodes holding the value.
		return collapse(htmlquery.InnerText(n)), true
	}
	if s.attr == "" {
		return collapse(goquery.NewDocumentFromNode(n).Text()), true
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, s.attr) {
			return strings.TrimSpace(a.Val), true
		}
	}
	return "", false
}

type domField struct {
	name string
	sel  Selector
}

// DOMExtractor evaluates field selectors against the rendered page.
type DOMExtractor struct {
	fields []domField
	record *Selector
	logger *zap.Logger
}

// NewDOM compiles the field and record selectors of policy.
func NewDOM(policy crawler.ExtractorPolicy, logger *zap.Logger) (*DOMExtractor, error) {
	if len(policy.Fields) == 0 {
		return nil, errors.New("dom extractor: no fields configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &DOMExtractor{logger: logger}
	for _, f := range policy.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("dom extractor: field with selector %q has no name", f.Selector)
		}
		sel, err := ParseSelector(f.Selector)
		if err != nil {
			return nil, fmt.Errorf("dom extractor: field %q: %w", f.Name, err)
		}
		e.fields = append(e.fields, domField{name: f.Name, sel: sel})
	}
	if strings.TrimSpace(policy.RecordSelector) != "" {
		sel, err := ParseSelector(policy.RecordSelector)
		if err != nil {
			return nil, fmt.Errorf("dom extractor: record selector: %w", err)
		}
		e.record = &sel
	}
	return e, nil
}

// Extract implements crawler.Extractor.
func (e *DOMExtractor) Extract(ctx context.Context, page crawler.PageHandle) ([]crawler.RawRecord, error) {
	if page.Browser == nil {
		return nil, softError("dom", fmt.Errorf("page %d has no browser", page.Index))
	}
	markup, err := page.Browser.DOM(ctx)
	if err != nil {
		return nil, softError("dom", err)
	}
	return e.ExtractHTML(markup, page.URL)
}

// ExtractHTML runs the selectors over markup. Relative URLs in src, href,
// srcset and data-src attributes resolve against pageURL.
func (e *DOMExtractor) ExtractHTML(markup, pageURL string) ([]crawler.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, softError("parse dom", err)
	}
	base, _ := url.Parse(pageURL)

	scopes := []*goquery.Selection{doc.Selection}
	if e.record != nil {
		scopes = scopes[:0]
		for _, n := range e.record.match(doc.Selection) {
			scopes = append(scopes, doc.FindNodes(n))
		}
	}

	records := make([]crawler.RawRecord, 0, len(scopes))
	for _, scope := range scopes {
		var rec crawler.RawRecord
		for _, f := range e.fields {
			var values []crawler.RawValue
			for _, n := range f.sel.match(scope) {
				if v, ok := f.sel.value(n); ok {
					values = append(values, crawler.String(resolve(base, f.sel.attr, v)))
				}
			}
			switch len(values) {
			case 0:
				continue
			case 1:
				rec = append(rec, crawler.Field{Name: f.name, Value: values[0]})
			default:
				rec = append(rec, crawler.Field{Name: f.name, Value: crawler.List(values...)})
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	e.logger.Debug("dom extraction complete",
		zap.String("url", pageURL),
		zap.Int("scopes", len(scopes)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func resolve(base *url.URL, attr, value string) string {
	if !urlAttrs[attr] || value == "" {
		return value
	}
	if attr == "srcset" {
		first, _, _ := strings.Cut(value, ",")
		if fields := strings.Fields(first); len(fields) > 0 {
			value = fields[0]
		}
	}
	if base == nil || !base.IsAbs() {
		return value
	}
	ref, err := url.Parse(value)
	if err != nil {
		return value
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
