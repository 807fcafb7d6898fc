package controls

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// declaration is one property of an inline style attribute.
type declaration struct {
	prop  string
	value string
}

func parseStyle(style string) []declaration {
	var out []declaration
	for _, part := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		if prop == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: strings.TrimSpace(value)})
	}
	return out
}

func formatStyle(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.prop+": "+d.value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// setStyleProperty sets one property in the style attribute of every element
// in sel, keeping the position and value of every other declaration.
func setStyleProperty(sel *goquery.Selection, prop, value string) {
	sel.Each(func(_ int, el *goquery.Selection) {
		decls := parseStyle(el.AttrOr("style", ""))
		replaced := false
		for i := range decls {
			if decls[i].prop == prop {
				decls[i].value = value
				replaced = true
			}
		}
		if !replaced {
			decls = append(decls, declaration{prop: prop, value: value})
		}
		el.SetAttr("style", formatStyle(decls))
	})
}

// styleProperty returns the value of prop in the first element's style
// attribute.
func styleProperty(sel *goquery.Selection, prop string) string {
	val := ""
	for _, d := range parseStyle(sel.First().AttrOr("style", "")) {
		if d.prop == prop {
			val = d.value
		}
	}
	return val
}
