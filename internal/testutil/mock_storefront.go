// Package testutil provides testing utilities for the infinite-scroll engine.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock storefront response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockStorefront is a configurable mock storefront server for testing.
type MockStorefront struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	requests          []string
}

// NewMockStorefront creates a new mock storefront server.
func NewMockStorefront() *MockStorefront {
	mock := &MockStorefront{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.requests = append(mock.requests, r.URL.RequestURI())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockStorefront) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockStorefront) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockStorefront) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockStorefront) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockStorefront) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves /collections/<handle> with totalPages pages of
// perPage products each, selected by the page query parameter. Pages past
// the end render an empty grid.
func (m *MockStorefront) SetCollection(handle string, totalPages, perPage int) {
	m.SetHandler("/collections/"+handle, func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(CollectionPage(handle, page, totalPages, perPage)))
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockStorefront) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// Requests returns the request URIs received, in order.
func (m *MockStorefront) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// CollectionPage renders a theme-like collection page. Product items carry
// ids of the form product-<page>-<n>. A next link is present while page is
// below totalPages.
func CollectionPage(handle string, page, totalPages, perPage int) string {
	var b strings.Builder
	b.WriteString(`<!doctype html><html><head><title>Collection</title></head>`)
	b.WriteString(`<body class="template-collection">`)
	fmt.Fprintf(&b, `<main><div class="collection"><p class="product-count">Page %d of %d</p>`, page, totalPages)
	b.WriteString(`<ul id="product-grid" class="grid">`)
	if page <= totalPages {
		for i := 1; i <= perPage; i++ {
			fmt.Fprintf(&b, `<li class="grid__item" id="product-%d-%d"><a href="/products/p-%d-%d">`, page, i, page, i)
			fmt.Fprintf(&b, `<img src="/cdn/p-%d-%d.jpg" data-srcset="/cdn/p-%d-%d.jpg 1x"></a></li>`, page, i, page, i)
		}
	}
	b.WriteString(`</ul>`)
	if page < totalPages {
		fmt.Fprintf(&b, `<nav class="pagination"><a href="/collections/%s?page=%d">%d</a>`, handle, page, page)
		fmt.Fprintf(&b, `<a rel="next" href="/collections/%s?page=%d">Next</a></nav>`, handle, page+1)
	}
	b.WriteString(`</div></main></body></html>`)
	return b.String()
}

// NewHTMLResponse creates a standard 200 OK HTML response.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `<html><body>Too many requests</body></html>`,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `<html><body>Internal server error</body></html>`,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `<html><body>Not found</body></html>`,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}
