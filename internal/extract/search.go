// Package extract turns rendered search-engine markup into structured results.
// Everything here is pure: no I/O beyond the reader handed in, no shared state.
package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scraping-service/internal/scraper"
)

// Structural anchors of a search results page. The container separates
// organic results from sponsored blocks.
const (
	containerSelector   = "div#res"
	resultSelector      = "div.g"
	linkSelector        = "a[href]"
	titleSelector       = "h3"
	descriptionSelector = "div[style]"
	descriptionMarker   = "-webkit-line-clamp:2"
)

// SearchResults parses html and returns the well-formed organic results in
// document order. A missing results container yields scraper.ErrStructure; a
// container without usable blocks yields an empty slice.
func SearchResults(html string) ([]scraper.SearchResult, error) {
	return Parse(strings.NewReader(html))
}

// Parse is SearchResults for streamed markup.
func Parse(r io.Reader) ([]scraper.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", scraper.ErrStructure, err)
	}
	return fromDocument(doc)
}

func fromDocument(doc *goquery.Document) ([]scraper.SearchResult, error) {
	container := doc.Find(containerSelector).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("%w: results container %q not found", scraper.ErrStructure, containerSelector)
	}

	results := make([]scraper.SearchResult, 0)
	container.Find(resultSelector).Each(func(_ int, block *goquery.Selection) {
		if result, ok := parseBlock(block); ok {
			results = append(results, result)
		}
	})
	return results, nil
}

// parseBlock reports false when any of link, title or description is absent.
func parseBlock(block *goquery.Selection) (scraper.SearchResult, bool) {
	href, ok := block.Find(linkSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return scraper.SearchResult{}, false
	}

	title := strings.TrimSpace(block.Find(titleSelector).First().Text())
	if title == "" {
		return scraper.SearchResult{}, false
	}

	description := strings.TrimSpace(block.Find(descriptionSelector).FilterFunction(isDescription).First().Text())
	if description == "" {
		return scraper.SearchResult{}, false
	}

	return scraper.SearchResult{
		URL:         href,
		Title:       title,
		Description: description,
	}, true
}

func isDescription(_ int, s *goquery.Selection) bool {
	style, _ := s.Attr("style")
	for _, decl := range strings.Split(normalizeStyle(style), ";") {
		if decl == descriptionMarker {
			return true
		}
	}
	return false
}

func normalizeStyle(style string) string {
	return strings.ToLower(strings.Join(strings.Fields(style), ""))
}
