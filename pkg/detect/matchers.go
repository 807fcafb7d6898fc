package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Matcher locates a candidate element beneath a root selection.
type Matcher interface {
	// Name identifies the matcher in logs and detection results.
	Name() string

	// Match returns the first matching descendant of root in document order,
	// or an empty selection.
	Match(root *goquery.Selection) *goquery.Selection
}

// cssMatcher matches a pre-compiled CSS selector.
type cssMatcher struct {
	source   string
	selector cascadia.Selector
}

// CSS returns a Matcher for a CSS selector. It panics on an invalid selector,
// so chains are validated at package initialization.
func CSS(selector string) Matcher {
	return cssMatcher{source: selector, selector: cascadia.MustCompile(selector)}
}

func (m cssMatcher) Name() string { return m.source }

func (m cssMatcher) Match(root *goquery.Selection) *goquery.Selection {
	return root.FindMatcher(m.selector).First()
}

// textMatcher matches the first element of a tag whose text contains any token.
type textMatcher struct {
	tag      cascadia.Selector
	name     string
	folded   []string
	verbatim []string
}

// Text returns a Matcher over elements selected by tag whose text content
// contains one of the folded tokens (case-insensitive) or one of the
// verbatim tokens.
func Text(tag string, folded, verbatim []string) Matcher {
	return textMatcher{
		tag:      cascadia.MustCompile(tag),
		name:     tag + ":text(" + strings.Join(append(append([]string{}, folded...), verbatim...), "|") + ")",
		folded:   folded,
		verbatim: verbatim,
	}
}

func (m textMatcher) Name() string { return m.name }

func (m textMatcher) Match(root *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	root.FindMatcher(m.tag).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := el.Text()
		lower := strings.ToLower(text)
		for _, tok := range m.folded {
			if strings.Contains(lower, tok) {
				found = el
				return false
			}
		}
		for _, tok := range m.verbatim {
			if strings.Contains(text, tok) {
				found = el
				return false
			}
		}
		return true
	})
	if found == nil {
		return root.FindMatcher(m.tag).Slice(0, 0)
	}
	return found
}

// Chain is an ordered list of matchers. Order encodes priority across host
// templates and must not be rearranged.
type Chain []Matcher

// First runs the chain against root and returns the first non-empty match
// along with the name of the matcher that produced it.
func (c Chain) First(root *goquery.Selection) (*goquery.Selection, string, bool) {
	if root == nil || root.Length() == 0 {
		return nil, "", false
	}
	for _, m := range c {
		if sel := m.Match(root); sel != nil && sel.Length() > 0 {
			return sel, m.Name(), true
		}
	}
	return nil, "", false
}

// Each calls fn for every match of the chain in priority order until fn
// returns false. Used where a match must also satisfy a further condition.
func (c Chain) Each(root *goquery.Selection, fn func(sel *goquery.Selection, name string) bool) {
	if root == nil || root.Length() == 0 {
		return
	}
	for _, m := range c {
		sel := m.Match(root)
		if sel == nil || sel.Length() == 0 {
			continue
		}
		if !fn(sel, m.Name()) {
			return
		}
	}
}

func cssChain(selectors ...string) Chain {
	chain := make(Chain, 0, len(selectors))
	for _, sel := range selectors {
		chain = append(chain, CSS(sel))
	}
	return chain
}

// Theme markup selectors. Theme-branded identifiers come first, generic
// fallbacks last.
var (
	// GridChain locates the product grid.
	GridChain = cssChain(
		"#product-grid",              // Dawn, Sense
		".product-grid",              // many themes
		"#ProductGridContainer",      // Debut
		".collection-products",       // Brooklyn
		".product-list",              // Prestige
		"[data-collection-products]", // various
		".collection__products",      // Empire
		"#CollectionProductGrid",     // Minimal
		".grid--uniform",             // Venture
		`[id*="product-grid"]`,       // any id containing product-grid
		`[class*="product-grid"]`,    // any class containing product-grid
		".products-grid",             // generic
		".products",                  // generic fallback
	)

	// PaginationChain locates the pagination block.
	PaginationChain = cssChain(
		".pagination",
		`[class*="pagination"]`,
		`[id*="pagination"]`,
		".pagination-wrapper",
	)

	// FilterFormChain locates the facets/filter form.
	FilterFormChain = cssChain(
		"form.facets",
		`[id*="FacetFilters"]`,
		"[data-facets-form]",
	)

	// ProductCountChain locates the "N products" label.
	ProductCountChain = cssChain(
		".product-count",
		"[data-product-count]",
		".collection-product-count",
		"#ProductCount",
	)

	// NextLinkChain locates the "next page" link inside a pagination block.
	NextLinkChain = append(cssChain(
		`a[rel="next"]`,
		".pagination__item--next a",
		`[aria-label*="Next"]`,
		".next a",
		`a[title*="Next"]`,
	), Text("a", []string{"next"}, []string{"›", "→"}))
)
