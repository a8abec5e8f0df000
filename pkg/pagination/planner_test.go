package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/rs/zerolog"
)

type stubCounter struct {
	total int
	err   error
	calls int
}

func (s *stubCounter) Count(ctx context.Context, p feed.Partition) (int, error) {
	s.calls++
	return s.total, s.err
}

var testPartition = feed.Partition{DirectoryID: "whats-new-v2", TagID: "whats-new-v2#year#2020"}

func TestPages(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		size      int
		wantPages int
	}{
		{"empty", 0, 100, 0},
		{"negative total", -1, 100, 0},
		{"zero size", 10, 0, 0},
		{"single partial", 1, 100, 1},
		{"exact multiple", 200, 100, 2},
		{"partial last page", 250, 100, 3},
		{"page size one", 5, 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := Pages(testPartition, tt.total, tt.size)
			if len(pages) != tt.wantPages {
				t.Fatalf("len(Pages) = %d, want %d", len(pages), tt.wantPages)
			}

			// The windows must tile [0, total) with no gaps or overlaps.
			next := 0
			for i, d := range pages {
				if d.Index != i {
					t.Errorf("page %d has index %d", i, d.Index)
				}
				if d.Partition != testPartition {
					t.Errorf("page %d partition = %v", i, d.Partition)
				}
				if d.Sort != feed.PublishedDesc {
					t.Errorf("page %d sort = %+v", i, d.Sort)
				}
				start, end := d.Window(tt.total)
				if start != next {
					t.Errorf("page %d starts at %d, want %d", i, start, next)
				}
				if end <= start {
					t.Errorf("page %d has empty window [%d,%d)", i, start, end)
				}
				next = end
			}
			if tt.wantPages > 0 && next != tt.total {
				t.Errorf("coverage ends at %d, want %d", next, tt.total)
			}
		})
	}
}

func TestPlanner_Plan(t *testing.T) {
	counter := &stubCounter{total: 250}
	planner, err := NewPlanner(counter, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}

	plan, err := planner.Plan(context.Background(), testPartition)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.TotalHits != 250 {
		t.Errorf("TotalHits = %d, want 250", plan.TotalHits)
	}
	if len(plan.Pages) != 3 {
		t.Fatalf("len(Pages) = %d, want 3", len(plan.Pages))
	}
	for i, d := range plan.Pages {
		if d.Index != i || d.Size != 100 {
			t.Errorf("page %d = %+v", i, d)
		}
	}
	if counter.calls != 1 {
		t.Errorf("Expected 1 count probe, got %d", counter.calls)
	}
}

func TestPlanner_ZeroCount(t *testing.T) {
	planner, err := NewPlanner(&stubCounter{total: 0}, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}

	plan, err := planner.Plan(context.Background(), testPartition)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !plan.Empty() {
		t.Errorf("Expected empty plan, got %d pages", len(plan.Pages))
	}
}

func TestPlanner_CountError(t *testing.T) {
	probeErr := errors.New("upstream unavailable")
	planner, err := NewPlanner(&stubCounter{err: probeErr}, DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}

	_, err = planner.Plan(context.Background(), testPartition)
	if !errors.Is(err, probeErr) {
		t.Errorf("Expected wrapped probe error, got %v", err)
	}
}

func TestNewPlanner_Validation(t *testing.T) {
	if _, err := NewPlanner(nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("Expected error for nil counter")
	}
	if _, err := NewPlanner(&stubCounter{}, Config{PageSize: 0}, zerolog.Nop()); err == nil {
		t.Error("Expected error for zero page size")
	}

	planner, err := NewPlanner(&stubCounter{}, Config{PageSize: 25}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	if planner.PageSize() != 25 {
		t.Errorf("PageSize() = %d, want 25", planner.PageSize())
	}
}
