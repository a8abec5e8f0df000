// Package testutil provides testing utilities for the feed mirror.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
)

// MockFeedFailure defines an injected failure for one page of a partition.
type MockFeedFailure struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockFeed is a configurable in-memory upstream feed for testing.
// Items are served in the order they were added.
type MockFeed struct {
	server   *httptest.Server
	mu       sync.RWMutex
	items    map[string][]feed.Entry
	failures map[string]MockFeedFailure

	// Tracking
	countRequests int
	pageRequests  int
	lastUserAgent string
}

// NewMockFeed creates a new mock feed server.
func NewMockFeed() *MockFeed {
	mock := &MockFeed{
		items:    make(map[string][]feed.Entry),
		failures: make(map[string]MockFeedFailure),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockFeed) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFeed) Close() {
	m.server.Close()
}

// SetItems replaces the entries of a partition.
func (m *MockFeed) SetItems(p feed.Partition, entries ...feed.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.String()] = append([]feed.Entry(nil), entries...)
}

// PrependItems adds newer entries in front of a partition.
func (m *MockFeed) PrependItems(p feed.Partition, entries ...feed.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.String()
	m.items[key] = append(append([]feed.Entry(nil), entries...), m.items[key]...)
}

// SetPageFailure makes one page of a partition fail.
func (m *MockFeed) SetPageFailure(p feed.Partition, page int, failure MockFeedFailure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[failureKey(p.String(), page)] = failure
}

// CountRequests returns the number of count probes served.
func (m *MockFeed) CountRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countRequests
}

// PageRequests returns the number of page requests served.
func (m *MockFeed) PageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageRequests
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockFeed) LastUserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUserAgent
}

// Reset clears all tracking counters.
func (m *MockFeed) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countRequests = 0
	m.pageRequests = 0
	m.lastUserAgent = ""
}

func (m *MockFeed) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := feed.Partition{
		DirectoryID: q.Get(feed.ParamDirectoryID),
		TagID:       q.Get(feed.ParamTagID),
	}.String()

	size, err := strconv.Atoi(q.Get(feed.ParamSize))
	if err != nil || size <= 0 {
		http.Error(w, `{"error": "invalid size"}`, http.StatusBadRequest)
		return
	}
	_, isPage := q[feed.ParamPage]
	page, _ := strconv.Atoi(q.Get(feed.ParamPage))

	m.mu.Lock()
	m.lastUserAgent = r.UserAgent()
	if isPage {
		m.pageRequests++
	} else {
		m.countRequests++
	}
	entries := m.items[key]
	failure, failing := m.failures[failureKey(key, page)]
	m.mu.Unlock()

	if isPage && failing {
		if failure.Delay > 0 {
			time.Sleep(failure.Delay)
		}
		w.WriteHeader(failure.StatusCode)
		w.Write([]byte(failure.Body))
		return
	}

	start := page * size
	end := start + size
	if start > len(entries) {
		start = len(entries)
	}
	if end > len(entries) {
		end = len(entries)
	}

	resp := feed.Response{
		Metadata: feed.Metadata{Count: end - start, TotalHits: len(entries)},
		Items:    entries[start:end],
	}
	if resp.Items == nil {
		resp.Items = []feed.Entry{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func failureKey(partition string, page int) string {
	return fmt.Sprintf("%s@%d", partition, page)
}

// NewEntry builds a feed entry with the given tag names.
func NewEntry(sourceID, title string, tags ...string) feed.Entry {
	entry := feed.Entry{
		Item: feed.RawItem{
			ID: sourceID,
			AdditionalFields: feed.AdditionalFields{
				Headline:     title,
				PostBody:     "<p>" + title + "</p>",
				HeadlineURL:  "https://example.com/" + sourceID,
				PostDateTime: "2024-01-02T03:04:05Z",
			},
		},
		Tags: make([]feed.Tag, 0, len(tags)),
	}
	for i, name := range tags {
		entry.Tags = append(entry.Tags, feed.Tag{ID: fmt.Sprintf("tag-%d", i), Name: name})
	}
	return entry
}

// NewEntries builds n entries with sequential source ids under prefix.
func NewEntries(prefix string, n int, tags ...string) []feed.Entry {
	entries := make([]feed.Entry, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%04d", prefix, i)
		entries = append(entries, NewEntry(id, "Item "+id, tags...))
	}
	return entries
}

// NewServerErrorFailure creates a 500 Internal Server Error failure.
func NewServerErrorFailure() MockFeedFailure {
	return MockFeedFailure{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewThrottledFailure creates a 429 Too Many Requests failure.
func NewThrottledFailure() MockFeedFailure {
	return MockFeedFailure{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate exceeded"}`,
	}
}
