package store

import (
	"context"
	"fmt"
	"time"
)

const entryColumns = `e.id, e.group_id, e.author_id, e.title, e.content, e.photo_keys, e.tags, e.is_quick_reflection, e.turn_index, e.entry_date, u.display_name`

func scanEntry(row interface{ Scan(...any) error }) (EntryWithAuthor, error) {
	var entry EntryWithAuthor
	var photoKeys, tags []byte
	err := row.Scan(
		&entry.ID,
		&entry.GroupID,
		&entry.AuthorID,
		&entry.Title,
		&entry.Content,
		&photoKeys,
		&tags,
		&entry.IsQuickReflection,
		&entry.TurnIndex,
		&entry.EntryDate,
		&entry.AuthorName,
	)
	if err != nil {
		return EntryWithAuthor{}, err
	}
	if err := scanStrings(photoKeys, &entry.PhotoKeys); err != nil {
		return EntryWithAuthor{}, fmt.Errorf("decode photo keys: %w", err)
	}
	if err := scanStrings(tags, &entry.Tags); err != nil {
		return EntryWithAuthor{}, fmt.Errorf("decode tags: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) collectEntries(ctx context.Context, query string, args ...any) ([]EntryWithAuthor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]EntryWithAuthor, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) ListGroupEntries(ctx context.Context, groupID string, limit int) ([]EntryWithAuthor, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.collectEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries e JOIN users u ON u.id = e.author_id
		WHERE e.group_id=$1
		ORDER BY e.entry_date DESC
		LIMIT $2
	`, groupID, limit)
}

// ListEntriesBetween returns entries with from <= entry_date < to, ascending
// for calendar rendering.
func (s *PostgresStore) ListEntriesBetween(ctx context.Context, groupID string, from, to time.Time) ([]EntryWithAuthor, error) {
	return s.collectEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries e JOIN users u ON u.id = e.author_id
		WHERE e.group_id=$1 AND e.entry_date >= $2 AND e.entry_date < $3
		ORDER BY e.entry_date ASC
	`, groupID, from, to)
}

func (s *PostgresStore) LatestEntry(ctx context.Context, groupID string) (*EntryWithAuthor, error) {
	entries, err := s.collectEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries e JOIN users u ON u.id = e.author_id
		WHERE e.group_id=$1
		ORDER BY e.entry_date DESC
		LIMIT 1
	`, groupID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// UpsertDraft overwrites all draft fields atomically, keyed (group, author).
func (s *PostgresStore) UpsertDraft(ctx context.Context, draft Draft) (Draft, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, group_id, author_id, title, content, photo_keys, is_quick_reflection, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (group_id, author_id) DO UPDATE SET
			title=EXCLUDED.title,
			content=EXCLUDED.content,
			photo_keys=EXCLUDED.photo_keys,
			is_quick_reflection=EXCLUDED.is_quick_reflection,
			updated_at=NOW()
		RETURNING id, updated_at
	`, draft.ID, draft.GroupID, draft.AuthorID, draft.Title, draft.Content,
		jsonStrings(draft.PhotoKeys), draft.IsQuickReflection).Scan(&draft.ID, &draft.UpdatedAt)
	if err != nil {
		return Draft{}, fmt.Errorf("upsert draft: %w", err)
	}
	return draft, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, groupID, authorID string) (Draft, error) {
	var draft Draft
	var photoKeys []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, author_id, title, content, photo_keys, is_quick_reflection, updated_at
		FROM drafts WHERE group_id=$1 AND author_id=$2
	`, groupID, authorID).Scan(
		&draft.ID,
		&draft.GroupID,
		&draft.AuthorID,
		&draft.Title,
		&draft.Content,
		&photoKeys,
		&draft.IsQuickReflection,
		&draft.UpdatedAt,
	)
	if err != nil {
		return Draft{}, err
	}
	if err := scanStrings(photoKeys, &draft.PhotoKeys); err != nil {
		return Draft{}, fmt.Errorf("decode photo keys: %w", err)
	}
	return draft, nil
}
