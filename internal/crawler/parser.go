package crawler

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// errUnsupportedScheme is wrapped by ParseError for links that cannot be
// crawled, such as javascript: or mailto: targets.
var errUnsupportedScheme = errors.New("unsupported link scheme")

// Parser extracts link targets from HTML content.
//
// Design decision: We use golang.org/x/net/html for parsing rather than
// regex because:
//  1. It correctly handles the malformed HTML common on shop front-ends
//  2. It lets us honor <base href> the way browsers do
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains the links found on a page.
type ParseResult struct {
	// Title is the page title from <title> tag.
	Title string

	// Links contains absolute http(s) URLs from <a href> and <area href>,
	// deduplicated, in document order.
	Links []string

	// Skipped contains a *ParseError for every href that was dropped.
	Skipped []error
}

// NewParser creates a new HTML parser with the given base URL.
// The base URL is used to resolve relative links.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ParseError{URL: baseURL, Err: err}
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content and extracts all link targets.
// Malformed hrefs are recorded in Skipped; they never fail the page.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, &ParseError{URL: p.baseURL.String(), Err: err}
	}

	result := &ParseResult{
		Links:   make([]string, 0),
		Skipped: make([]error, 0),
	}

	base := p.baseURL
	if href := findBaseHref(doc); href != "" {
		if u, err := p.baseURL.Parse(href); err == nil {
			base = u
		}
	}

	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					result.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a", "area":
				if href, ok := getAttr(n, "href"); ok {
					link, err := resolveURL(base, href)
					switch {
					case err != nil:
						result.Skipped = append(result.Skipped, err)
					case link == "":
					default:
						if _, dup := seen[link]; !dup {
							seen[link] = struct{}{}
							result.Links = append(result.Links, link)
						}
					}
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	return result, nil
}

// ExtractLinks is a convenience wrapper that parses content fetched from
// pageURL and returns only the links.
func ExtractLinks(pageURL, content string) ([]string, error) {
	p, err := NewParser(pageURL)
	if err != nil {
		return nil, err
	}
	result, err := p.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return result.Links, nil
}

// findBaseHref returns the href of the first <base> element, if any.
func findBaseHref(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "base" {
		if href, ok := getAttr(n, "href"); ok {
			return strings.TrimSpace(href)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findBaseHref(c); href != "" {
			return href
		}
	}
	return ""
}

// resolveURL resolves href against base. It returns "" without error for
// fragment-only and empty links, and a *ParseError for hrefs that cannot be
// parsed or do not point at an http(s) resource.
func resolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", nil
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", &ParseError{URL: href, Err: err}
	}

	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", &ParseError{URL: href, Err: errUnsupportedScheme}
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""

	return resolved.String(), nil
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
