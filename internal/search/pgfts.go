package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the entries table using plainto_tsquery and ts_rank, with
// ts_headline for snippets, scoped to the caller's journals.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	groups := scopeGroups(q)
	if len(groups) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	placeholders := make([]string, len(groups))
	for i, g := range groups {
		args = append(args, g)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	where := fmt.Sprintf("e.fts @@ %s AND e.group_id IN (%s)",
		tsQuery, strings.Join(placeholders, ", "))

	baseSQL := fmt.Sprintf(`
		SELECT e.id, e.title,
			ts_headline('english', coalesce(e.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			e.group_id, e.author_id, to_char(e.entry_date, 'YYYY-MM-DD') AS entry_date,
			ts_rank(e.fts, %s) AS rank
		FROM entries e
		WHERE %s`, tsQuery, tsQuery, where)

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", baseSQL)
	dataSQL := fmt.Sprintf(`SELECT id, title, snippet, group_id, author_id, entry_date
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, baseSQL, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.GroupID, &r.AuthorID, &r.EntryDate); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexed entries for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.content, e.group_id, e.author_id, to_char(e.entry_date, 'YYYY-MM-DD')
		FROM entries e
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	entries := make([]EntryRecord, 0)
	for rows.Next() {
		var e EntryRecord
		if err := rows.Scan(&e.ID, &e.Title, &e.Body, &e.GroupID, &e.AuthorID, &e.EntryDate); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}
