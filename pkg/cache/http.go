package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback freshness when the response carries no
	// caching headers.
	DefaultTTL = 5 * time.Minute
)

// NewEntry builds an entry from a successful response and its already read
// body. It returns false when the response must not be cached.
func NewEntry(header http.Header, body []byte, now time.Time) (*CacheEntry, bool) {
	directives := parseCacheControl(header.Get("Cache-Control"))
	if _, ok := directives["no-store"]; ok {
		return nil, false
	}

	entry := &CacheEntry{
		Data:        body,
		ContentType: header.Get("Content-Type"),
		ETag:        header.Get("ETag"),
		CachedAt:    now,
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	entry.Expires = freshUntil(header, directives, now)
	return entry, true
}

// Refresh applies the caching headers of a 304 Not Modified response to a
// revalidated entry.
func Refresh(entry *CacheEntry, header http.Header, now time.Time) {
	if etag := header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
	entry.Expires = freshUntil(header, parseCacheControl(header.Get("Cache-Control")), now)
}

// freshUntil derives the expiry from max-age, then Expires, then DefaultTTL.
func freshUntil(header http.Header, directives map[string]string, now time.Time) time.Time {
	if _, ok := directives["no-cache"]; ok {
		return now
	}
	if v, ok := directives["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			if secs < 0 {
				secs = 0
			}
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return parseExpires(header, now)
}

// parseExpires parses the Expires header. Missing or invalid values yield
// now + DefaultTTL; values in the past yield now.
func parseExpires(headers http.Header, now time.Time) time.Time {
	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL)
	}

	if expires.Before(now) {
		return now
	}

	return expires
}

func parseCacheControl(value string) map[string]string {
	directives := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg, _ := strings.Cut(part, "=")
		directives[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), `"`)
	}
	return directives
}

// AddConditionalHeaders adds If-None-Match or, without an ETag,
// If-Modified-Since to req.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil || req == nil {
		return
	}

	// ETag is more precise than Last-Modified.
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
