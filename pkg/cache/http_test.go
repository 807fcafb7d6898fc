package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	now := time.Now()
	lastMod := now.Add(-time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name        string
		header      http.Header
		cacheable   bool
		wantExpires time.Time
	}{
		{
			name: "max-age wins over expires",
			header: http.Header{
				"Cache-Control": {"public, max-age=60"},
				"Expires":       {now.Add(time.Hour).Format(http.TimeFormat)},
				"Etag":          {`"abc"`},
			},
			cacheable:   true,
			wantExpires: now.Add(time.Minute),
		},
		{
			name:        "expires header",
			header:      http.Header{"Expires": {now.Add(time.Hour).UTC().Format(http.TimeFormat)}},
			cacheable:   true,
			wantExpires: now.Add(time.Hour),
		},
		{
			name:        "no caching headers",
			header:      http.Header{},
			cacheable:   true,
			wantExpires: now.Add(DefaultTTL),
		},
		{
			name:        "invalid expires",
			header:      http.Header{"Expires": {"0"}},
			cacheable:   true,
			wantExpires: now.Add(DefaultTTL),
		},
		{
			name:        "no-cache stored stale",
			header:      http.Header{"Cache-Control": {"no-cache"}, "Last-Modified": {lastMod.Format(http.TimeFormat)}},
			cacheable:   true,
			wantExpires: now,
		},
		{
			name:      "no-store",
			header:    http.Header{"Cache-Control": {"private, no-store"}},
			cacheable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := NewEntry(tt.header, []byte("<html></html>"), now)
			if ok != tt.cacheable {
				t.Fatalf("NewEntry() cacheable = %v, want %v", ok, tt.cacheable)
			}
			if !ok {
				return
			}

			diff := entry.Expires.Sub(tt.wantExpires)
			if diff < -2*time.Second || diff > 2*time.Second {
				t.Errorf("Expires = %v, want about %v", entry.Expires, tt.wantExpires)
			}
			if string(entry.Data) != "<html></html>" {
				t.Errorf("Data = %q", entry.Data)
			}
			if entry.ETag != tt.header.Get("ETag") {
				t.Errorf("ETag = %q, want %q", entry.ETag, tt.header.Get("ETag"))
			}
		})
	}
}

func TestNewEntry_LastModified(t *testing.T) {
	lastMod := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	entry, ok := NewEntry(http.Header{"Last-Modified": {lastMod.Format(http.TimeFormat)}}, nil, time.Now())
	if !ok {
		t.Fatal("entry not cacheable")
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}
	if !entry.Revalidatable() {
		t.Error("entry with Last-Modified should be revalidatable")
	}
}

func TestRefresh(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{ETag: `"v1"`, Expires: now.Add(-time.Minute)}

	Refresh(entry, http.Header{"Cache-Control": {"max-age=120"}, "Etag": {`"v2"`}}, now)

	if entry.ETag != `"v2"` {
		t.Errorf("ETag = %q, want %q", entry.ETag, `"v2"`)
	}
	if entry.IsExpired() {
		t.Error("refreshed entry should be fresh")
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name             string
		entry            *CacheEntry
		wantIfNoneMatch  string
		wantIfModifSince string
	}{
		{
			name:            "etag preferred",
			entry:           &CacheEntry{ETag: `"abc"`, LastModified: lastMod},
			wantIfNoneMatch: `"abc"`,
		},
		{
			name:             "last-modified only",
			entry:            &CacheEntry{LastModified: lastMod},
			wantIfModifSince: "Fri, 02 Jan 2026 03:04:05 GMT",
		},
		{
			name:  "no validators",
			entry: &CacheEntry{},
		},
		{
			name: "nil entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "https://shop.test/", nil)
			AddConditionalHeaders(req, tt.entry)

			if got := req.Header.Get("If-None-Match"); got != tt.wantIfNoneMatch {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantIfNoneMatch)
			}
			if got := req.Header.Get("If-Modified-Since"); got != tt.wantIfModifSince {
				t.Errorf("If-Modified-Since = %q, want %q", got, tt.wantIfModifSince)
			}
		})
	}
}
