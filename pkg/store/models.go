package store

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// NewsItem is one mirrored announcement.
type NewsItem struct {
	ID              int64
	SourceID        string
	Title           string
	Content         string
	SourceURL       string
	SourceCreatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tag is a tag referenced by at least one item.
type Tag struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Counts is the number of rows in each relation.
type Counts struct {
	Items        int64 `db:"items"`
	Tags         int64 `db:"tags"`
	Associations int64 `db:"associations"`
}

type dbNewsItem struct {
	ID              int64      `db:"id"`
	SourceID        string     `db:"source_id"`
	Title           string     `db:"title"`
	Content         string     `db:"content"`
	SourceURL       string     `db:"source_url"`
	SourceCreatedAt *time.Time `db:"source_created_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type dbTag struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func toTags(rows []dbTag) []Tag {
	return lo.Map(rows, func(row dbTag, _ int) Tag {
		return Tag(row)
	})
}

// NormalizeTags drops empty names and duplicates and sorts the rest so that
// concurrent writers lock tag rows in the same order.
func NormalizeTags(names []string) []string {
	out := lo.Uniq(lo.Filter(names, func(name string, _ int) bool {
		return name != ""
	}))
	sort.Strings(out)
	return out
}
