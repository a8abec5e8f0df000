package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	insertItemSQL = `
		INSERT INTO whatsnews (source_id, title, content, source_url, source_created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO NOTHING
		RETURNING id`
	selectItemIDSQL = `SELECT id FROM whatsnews WHERE source_id = $1`

	insertTagSQL = `
		INSERT INTO tags (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`
	selectTagIDSQL = `SELECT id FROM tags WHERE name = $1`

	insertAssociationSQL = `
		INSERT INTO whatsnews_tags (whatsnew_id, tag_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
)

// UpsertItem writes the item, its tags and the associations in one
// transaction on one connection. An existing item or tag is looked up and
// reused; its content is never overwritten. It returns the item id.
//
// The transaction is rolled back and the connection released on every path
// that does not commit, so a failed attempt can be retried as is.
func (s *Store) UpsertItem(ctx context.Context, item NewsItem, tags []string) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	itemID, err := insertOrLookup(ctx, tx, insertItemSQL, selectItemIDSQL, item.SourceID,
		item.SourceID, item.Title, item.Content, item.SourceURL, item.SourceCreatedAt)
	if err != nil {
		return 0, fmt.Errorf("upsert item %s: %w", item.SourceID, err)
	}

	for _, name := range NormalizeTags(tags) {
		tagID, err := insertOrLookup(ctx, tx, insertTagSQL, selectTagIDSQL, name, name)
		if err != nil {
			return 0, fmt.Errorf("upsert tag %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, insertAssociationSQL, itemID, tagID); err != nil {
			return 0, fmt.Errorf("associate tag %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return itemID, nil
}

// insertOrLookup runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id and
// falls back to selecting the existing id by key when nothing was inserted.
func insertOrLookup(ctx context.Context, tx *sqlx.Tx, insertSQL, selectSQL, key string, args ...any) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, insertSQL, args...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := tx.GetContext(ctx, &id, selectSQL, key); err != nil {
		return 0, err
	}
	return id, nil
}
