// Package detect locates the product grid, pagination and filter form in
// theme markup it has no prior knowledge of, and resolves the next page URL.
//
// Detection runs ordered matcher chains (see matchers.go) and keeps the first
// hit of each chain. Every function here is a pure function of the supplied
// tree: nothing is cached and nothing is mutated except by SyncProductCount.
package detect

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Structure is the result of running detection against a document.
type Structure struct {
	// Grid is the product grid container, nil when not found.
	Grid *goquery.Selection

	// Pagination is the pagination block, nil when absent.
	Pagination *goquery.Selection

	// FilterForm is the facets form, nil when absent.
	FilterForm *goquery.Selection

	// GridMatcher and PaginationMatcher name the selectors that won.
	GridMatcher       string
	PaginationMatcher string
}

// Found reports whether a grid was located.
func (s Structure) Found() bool {
	return s.Grid != nil && s.Grid.Length() > 0
}

// HasPagination reports whether a pagination block was located.
func (s Structure) HasPagination() bool {
	return s.Pagination != nil && s.Pagination.Length() > 0
}

// Detect runs the grid, pagination and filter form chains against doc.
// A nil document yields an empty Structure.
func Detect(doc *goquery.Document) Structure {
	if doc == nil {
		return Structure{}
	}
	return DetectIn(doc.Selection)
}

// DetectIn runs detection below an arbitrary root selection.
func DetectIn(root *goquery.Selection) Structure {
	var s Structure
	if grid, name, ok := GridChain.First(root); ok {
		s.Grid, s.GridMatcher = grid, name
	}
	if pag, name, ok := PaginationChain.First(root); ok {
		s.Pagination, s.PaginationMatcher = pag, name
	}
	if form, _, ok := FilterFormChain.First(root); ok {
		s.FilterForm = form
	}
	return s
}

// ResolveNextURL returns the absolute URL of the next page linked from a
// pagination block. A nil or empty pagination block means there are no more
// pages. Matches without a usable href are skipped in favour of the next
// matcher. Relative links resolve against base when base is non-nil.
func ResolveNextURL(pagination *goquery.Selection, base *url.URL) (string, bool) {
	if pagination == nil || pagination.Length() == 0 {
		return "", false
	}

	var next string
	NextLinkChain.Each(pagination, func(sel *goquery.Selection, _ string) bool {
		href, ok := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		resolved, err := absolute(href, base)
		if err != nil {
			return true
		}
		next = resolved
		return false
	})

	return next, next != ""
}

func absolute(href string, base *url.URL) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

var (
	collectionBody    = cascadia.MustCompile("body.template-collection")
	collectionSection = cascadia.MustCompile(`[data-section-type="collection-template"]`)
)

// IsCollectionPage classifies a page as a paginated collection listing by
// template class, section type, or URL path.
func IsCollectionPage(doc *goquery.Document, pageURL *url.URL) bool {
	if doc != nil {
		if doc.FindMatcher(collectionBody).Length() > 0 {
			return true
		}
		if doc.FindMatcher(collectionSection).Length() > 0 {
			return true
		}
	}
	return pageURL != nil && strings.Contains(pageURL.Path, "/collections/")
}

// SyncProductCount copies the product count markup of a fetched page into the
// live document. It uses the first count selector present in both and
// reports whether anything was copied.
func SyncProductCount(live, fetched *goquery.Document) bool {
	if live == nil || fetched == nil {
		return false
	}
	for _, m := range ProductCountChain {
		dst := m.Match(live.Selection)
		src := m.Match(fetched.Selection)
		if dst.Length() == 0 || src.Length() == 0 {
			continue
		}
		inner, err := src.Html()
		if err != nil {
			return false
		}
		dst.SetHtml(inner)
		return true
	}
	return false
}
