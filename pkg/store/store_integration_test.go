//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/internal/testutil"
	"github.com/Sternrassler/whatsnews-mirror/pkg/retry"
	"github.com/rs/zerolog"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DSN = testutil.StartPostgres(t)
	cfg.MaxOpenConns = 20

	s, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, dirty, err := s.Migrate(context.Background()); err != nil || dirty {
		t.Fatalf("Migrate() dirty=%v error = %v", dirty, err)
	}
	return s
}

func testItem(sourceID, title string) NewsItem {
	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewsItem{
		SourceID:        sourceID,
		Title:           title,
		Content:         "<p>" + title + "</p>",
		SourceURL:       "https://example.com/" + sourceID,
		SourceCreatedAt: &published,
	}
}

func TestIntegration_UpsertItemIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first, err := s.UpsertItem(ctx, testItem("a", "A"), []string{"compute", "storage"})
	if err != nil {
		t.Fatalf("first UpsertItem() error = %v", err)
	}
	before, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}

	second, err := s.UpsertItem(ctx, testItem("a", "A"), []string{"storage", "compute"})
	if err != nil {
		t.Fatalf("second UpsertItem() error = %v", err)
	}
	after, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}

	if first != second {
		t.Errorf("item id changed: %d -> %d", first, second)
	}
	if before != after {
		t.Errorf("counts changed: %+v -> %+v", before, after)
	}
	if after != (Counts{Items: 1, Tags: 2, Associations: 2}) {
		t.Errorf("Counts() = %+v", after)
	}
}

func TestIntegration_NoOverwriteAddsNewTags(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.UpsertItem(ctx, testItem("a", "Original"), []string{"A", "B"})
	if err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}
	if _, err := s.UpsertItem(ctx, testItem("a", "Edited upstream"), []string{"A", "B", "C"}); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	item, err := s.NewsItemBySourceID(ctx, "a")
	if err != nil {
		t.Fatalf("NewsItemBySourceID() error = %v", err)
	}
	if item.Title != "Original" {
		t.Errorf("Title = %q, want Original", item.Title)
	}

	tags, err := s.TagsForItem(ctx, id)
	if err != nil {
		t.Fatalf("TagsForItem() error = %v", err)
	}
	if len(tags) != 3 || tags[0].Name != "A" || tags[1].Name != "B" || tags[2].Name != "C" {
		t.Errorf("TagsForItem() = %+v", tags)
	}
}

func TestIntegration_ConcurrentSameSourceID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	const writers = 16
	ids := make([]int64, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.UpsertItem(ctx, testItem("same", fmt.Sprintf("writer %d", i)), []string{"shared", "x"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && ClassifyError(err) != retry.ClassTransientContention {
			t.Fatalf("writer %d failed fatally: %v", i, err)
		}
	}

	var want int64
	for i, id := range ids {
		if errs[i] != nil {
			continue
		}
		if want == 0 {
			want = id
		}
		if id != want {
			t.Errorf("writer %d observed id %d, want %d", i, id, want)
		}
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.Items != 1 || counts.Tags != 2 || counts.Associations != 2 {
		t.Errorf("Counts() = %+v", counts)
	}
}

func TestIntegration_Lookups(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.UpsertItem(ctx, testItem("known", "Known"), nil); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	exists, err := s.Exists(ctx, "known")
	if err != nil || !exists {
		t.Errorf("Exists(known) = %v, %v", exists, err)
	}
	exists, err = s.Exists(ctx, "unknown")
	if err != nil || exists {
		t.Errorf("Exists(unknown) = %v, %v", exists, err)
	}

	found, err := s.ExistingSourceIDs(ctx, []string{"known", "unknown"})
	if err != nil {
		t.Fatalf("ExistingSourceIDs() error = %v", err)
	}
	if !found["known"] || found["unknown"] {
		t.Errorf("ExistingSourceIDs() = %v", found)
	}

	if _, err := s.NewsItemBySourceID(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIntegration_Stored(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.UpsertItem(ctx, testItem("tagged", "Tagged"), []string{"compute", "storage"})
	if err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}
	if _, err := s.UpsertItem(ctx, testItem("untagged", "Untagged"), nil); err != nil {
		t.Fatalf("UpsertItem() error = %v", err)
	}

	tests := []struct {
		name     string
		sourceID string
		tags     []string
		wantOK   bool
	}{
		{"all tags present", "tagged", []string{"storage", "compute"}, true},
		{"subset of tags", "tagged", []string{"compute"}, true},
		{"missing tag", "tagged", []string{"compute", "analytics"}, false},
		{"no tags", "untagged", nil, true},
		{"unknown item", "missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, ok, err := s.Stored(ctx, tt.sourceID, tt.tags)
			if err != nil {
				t.Fatalf("Stored() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("Stored() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.sourceID == "tagged" && gotID != id {
				t.Errorf("Stored() id = %d, want %d", gotID, id)
			}
		})
	}
}

func TestIntegration_MigrateReleasesConnection(t *testing.T) {
	s := setupStore(t)

	// A second run is a no-op and must also hand its connection back.
	if _, _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if inUse := s.DB().Stats().InUse; inUse != 0 {
		t.Errorf("connections in use after Migrate = %d, want 0", inUse)
	}
}
