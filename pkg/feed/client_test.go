package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(),
		},
		{
			name:        "empty base url",
			config:      Config{UserAgent: "test/1.0"},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "relative base url",
			config:      Config{BaseURL: "/api/dirs/items/search", UserAgent: "test/1.0"},
			expectError: true,
			errorMsg:    "base url must be absolute",
		},
		{
			name:        "empty user agent",
			config:      Config{BaseURL: DefaultBaseURL},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestCountURL(t *testing.T) {
	client := newTestClient(t, "https://feed.example.com/search")

	tests := []struct {
		name      string
		partition Partition
		wantTag   bool
	}{
		{"with tag", Partition{DirectoryID: "whats-new-v2", TagID: "whats-new-v2#year#2023"}, true},
		{"directory only", Partition{DirectoryID: "whats-new-v2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(client.CountURL(tt.partition))
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			q := u.Query()

			if q.Get(ParamDirectoryID) != tt.partition.DirectoryID {
				t.Errorf("%s = %q, want %q", ParamDirectoryID, q.Get(ParamDirectoryID), tt.partition.DirectoryID)
			}
			if q.Get(ParamSize) != "1" {
				t.Errorf("%s = %q, want 1", ParamSize, q.Get(ParamSize))
			}
			if _, ok := q[ParamTagID]; ok != tt.wantTag {
				t.Errorf("%s present = %v, want %v", ParamTagID, ok, tt.wantTag)
			}
			if tt.wantTag && q.Get(ParamTagID) != tt.partition.TagID {
				t.Errorf("%s = %q, want %q", ParamTagID, q.Get(ParamTagID), tt.partition.TagID)
			}
			if q.Get(ParamLocale) != "en_US" {
				t.Errorf("%s = %q, want en_US", ParamLocale, q.Get(ParamLocale))
			}
		})
	}
}

func TestPageURL(t *testing.T) {
	client := newTestClient(t, "https://feed.example.com/search")

	d := PageDescriptor{
		Partition: Partition{DirectoryID: "whats-new-v2", TagID: "whats-new-v2#year#2021"},
		Size:      100,
		Index:     2,
		Sort:      PublishedDesc,
	}

	u, err := url.Parse(client.PageURL(d))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		ParamDirectoryID: "whats-new-v2",
		ParamTagID:       "whats-new-v2#year#2021",
		ParamSortBy:      SortFieldPublished,
		ParamSortOrder:   "desc",
		ParamSize:        "100",
		ParamPage:        "2",
		ParamLocale:      "en_US",
	}
	for key, value := range want {
		if q.Get(key) != value {
			t.Errorf("%s = %q, want %q", key, q.Get(key), value)
		}
	}
	if u.Host != "feed.example.com" || u.Path != "/search" {
		t.Errorf("unexpected endpoint %s%s", u.Host, u.Path)
	}
}

func TestCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(ParamSize) != "1" {
			t.Errorf("count probe size = %q, want 1", r.URL.Query().Get(ParamSize))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{Metadata: Metadata{Count: 1, TotalHits: 250}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	total, err := client.Count(context.Background(), Partition{DirectoryID: "whats-new-v2"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if total != 250 {
		t.Errorf("Count() = %d, want 250", total)
	}
}

func TestFetchPage(t *testing.T) {
	payload := `{
		"metadata": {"count": 2, "totalHits": 2},
		"items": [
			{
				"item": {
					"id": "whats-new-v2#a",
					"additionalFields": {
						"headline": "Feature A",
						"postBody": "<p>body</p>",
						"headlineUrl": "https://example.com/a",
						"postDateTime": "2023-05-01T10:00:00Z"
					}
				},
				"tags": [{"id": "t1", "name": "compute"}, {"id": "t2", "name": "storage"}]
			},
			{
				"item": {"id": "whats-new-v2#b", "additionalFields": {"headline": "Feature B"}},
				"tags": []
			}
		]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(ParamPage) != "0" {
			t.Errorf("page = %q, want 0", r.URL.Query().Get(ParamPage))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	d := PageDescriptor{Partition: Partition{DirectoryID: "whats-new-v2"}, Size: 100, Index: 0, Sort: PublishedDesc}

	page, err := client.FetchPage(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.Descriptor != d {
		t.Errorf("Descriptor = %+v, want %+v", page.Descriptor, d)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(page.Entries))
	}

	first := page.Entries[0].ToItem()
	if first.SourceID != "whats-new-v2#a" || first.Title != "Feature A" {
		t.Errorf("unexpected first item %+v", first)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v, want 2023-05-01T10:00:00Z", first.PublishedAt)
	}
	if got := page.Entries[0].TagNames(); len(got) != 2 || got[0] != "compute" || got[1] != "storage" {
		t.Errorf("TagNames() = %v", got)
	}
	if page.Entries[1].ToItem().PublishedAt != nil {
		t.Error("expected nil PublishedAt for missing postDateTime")
	}
}

func TestFetchPage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantIs     error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			wantStatus: http.StatusInternalServerError,
			wantIs:     ErrUnexpectedStatus,
		},
		{
			name: "throttled",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantStatus: http.StatusTooManyRequests,
			wantIs:     ErrUnexpectedStatus,
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.FetchPage(context.Background(), PageDescriptor{
				Partition: Partition{DirectoryID: "whats-new-v2"},
				Size:      10,
				Sort:      PublishedDesc,
			})

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Expected *FetchError, got %T (%v)", err, err)
			}
			if fetchErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, tt.wantStatus)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("Expected errors.Is(%v)", tt.wantIs)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("Expected exactly 1 request (no retry), got %d", got)
			}
		})
	}
}

func TestFetchPage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newTestClient(t, baseURL)
	_, err := client.Count(context.Background(), Partition{DirectoryID: "whats-new-v2"})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %T (%v)", err, err)
	}
	if fetchErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", fetchErr.StatusCode)
	}
}
