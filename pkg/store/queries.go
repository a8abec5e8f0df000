package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Exists reports whether an item with sourceID is stored.
func (s *Store) Exists(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM whatsnews WHERE source_id = $1)`, sourceID)
	return exists, err
}

// ExistingSourceIDs returns the subset of sourceIDs already stored.
func (s *Store) ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
	found := make(map[string]bool, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return found, nil
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT source_id FROM whatsnews WHERE source_id = ANY($1)`, pq.Array(sourceIDs)); err != nil {
		return nil, err
	}
	for _, id := range ids {
		found[id] = true
	}
	return found, nil
}

// Stored reports whether the item with sourceID is stored and associated
// with every one of tags, and returns its id.
func (s *Store) Stored(ctx context.Context, sourceID string, tags []string) (int64, bool, error) {
	names := NormalizeTags(tags)

	var row struct {
		ID     int64 `db:"id"`
		Tagged int   `db:"tagged"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT w.id, COUNT(t.id) AS tagged
		FROM whatsnews w
		LEFT JOIN whatsnews_tags wt ON wt.whatsnew_id = w.id
		LEFT JOIN tags t ON t.id = wt.tag_id AND t.name = ANY($2)
		WHERE w.source_id = $1
		GROUP BY w.id`, sourceID, pq.Array(names))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ID, row.Tagged == len(names), nil
}

// NewsItemBySourceID returns the stored item or ErrNotFound.
func (s *Store) NewsItemBySourceID(ctx context.Context, sourceID string) (*NewsItem, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbNewsItem
	err = conn.GetContext(ctx, &row, `
		SELECT id, source_id, title, content, source_url, source_created_at, created_at, updated_at
		FROM whatsnews WHERE source_id = $1`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return (*NewsItem)(&row), nil
}

// TagsForItem returns the tags associated with an item, ordered by name.
func (s *Store) TagsForItem(ctx context.Context, itemID int64) ([]Tag, error) {
	var rows []dbTag
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.name, t.created_at
		FROM tags t
		JOIN whatsnews_tags wt ON wt.tag_id = t.id
		WHERE wt.whatsnew_id = $1
		ORDER BY t.name`, itemID); err != nil {
		return nil, err
	}
	return toTags(rows), nil
}

// Counts returns the row count of every relation.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			(SELECT COUNT(*) FROM whatsnews)      AS items,
			(SELECT COUNT(*) FROM tags)           AS tags,
			(SELECT COUNT(*) FROM whatsnews_tags) AS associations`)
	return counts, err
}
