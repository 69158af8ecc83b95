package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PgFTS is the Postgres fallback searcher: a case-insensitive substring
// match over title and content, newest first.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, category_id, favorite, created_at
		FROM notes
		WHERE user_id = $1 AND (title ILIKE $2 OR content ILIKE $2)
		ORDER BY id DESC
		LIMIT $3
	`, q.UserID, "%"+q.Text+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.CategoryID, &r.Favorite, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LoadAllNotes reads every note for reindexing into Meilisearch.
func (p *PgFTS) LoadAllNotes(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, category_id, favorite, created_at FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]NoteRecord, 0)
	for rows.Next() {
		var record NoteRecord
		if err := rows.Scan(&record.ID, &record.UserID, &record.Title, &record.Content,
			&record.CategoryID, &record.Favorite, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
