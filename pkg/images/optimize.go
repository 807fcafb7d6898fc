// Package images applies lazy-loading and priority hints to product images.
package images

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Optimize adds deferred loading, async decoding, responsive srcset and low
// fetch priority hints to every img in sel, including sel itself when it is
// an img. Explicit values already present are left alone, so applying it
// twice is the same as applying it once. It returns the number of images
// that changed.
func Optimize(sel *goquery.Selection) int {
	if sel == nil || sel.Length() == 0 {
		return 0
	}

	changed := 0
	sel.Filter("img").AddSelection(sel.Find("img")).Each(func(_ int, img *goquery.Selection) {
		if optimizeImage(img) {
			changed++
		}
	})
	return changed
}

func optimizeImage(img *goquery.Selection) bool {
	changed := false

	switch loading := strings.ToLower(strings.TrimSpace(img.AttrOr("loading", ""))); loading {
	case "eager", "lazy":
	default:
		img.SetAttr("loading", "lazy")
		changed = true
	}

	if strings.TrimSpace(img.AttrOr("decoding", "")) == "" {
		img.SetAttr("decoding", "async")
		changed = true
	}

	if strings.TrimSpace(img.AttrOr("srcset", "")) == "" {
		if draft := strings.TrimSpace(img.AttrOr("data-srcset", "")); draft != "" {
			img.SetAttr("srcset", draft)
			changed = true
		}
	}

	if strings.TrimSpace(img.AttrOr("fetchpriority", "")) == "" {
		img.SetAttr("fetchpriority", "low")
		changed = true
	}

	return changed
}
