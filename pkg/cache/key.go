package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces page entries in Redis.
const KeyPrefix = "infinite-scroll:page:"

// CacheKey identifies a cached page.
type CacheKey struct {
	// Host including port, lower-cased.
	Host string

	// Path of the page.
	Path string

	// Query parameters. Order does not matter.
	Query url.Values
}

// KeyFromURL builds the key for a page URL. Scheme and fragment are ignored.
func KeyFromURL(u *url.URL) CacheKey {
	return CacheKey{
		Host:  strings.ToLower(u.Host),
		Path:  u.EscapedPath(),
		Query: u.Query(),
	}
}

// String generates a deterministic key.
// Format: infinite-scroll:page:host/path?k1=v1&k2=v2
//
// Example:
//
//	infinite-scroll:page:shop.test/collections/all?page=2
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(k.Host)

	path := k.Path
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sep := "?"
		for _, key := range keys {
			values := append([]string(nil), k.Query[key]...)
			sort.Strings(values)
			for _, v := range values {
				b.WriteString(sep)
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
				sep = "&"
			}
		}
	}

	return b.String()
}
