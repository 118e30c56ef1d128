package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertNotifications(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notifications tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range notifications {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, recipient_id, type, title, message, group_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.GroupID); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notifications tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, type, title, message, group_id, is_read, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.GroupID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE id=$1 AND recipient_id=$2
	`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND NOT is_read
	`, recipientID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---- chat sessions ----

func (s *PostgresStore) GetChatSession(ctx context.Context, userID, groupID string) (ChatSession, error) {
	var session ChatSession
	var messages []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, group_id, context, messages, updated_at
		FROM chat_sessions WHERE user_id=$1 AND group_id=$2
	`, userID, groupID).Scan(
		&session.ID,
		&session.UserID,
		&session.GroupID,
		&session.Context,
		&messages,
		&session.UpdatedAt,
	)
	if err != nil {
		return ChatSession{}, err
	}
	if err := json.Unmarshal(messages, &session.Messages); err != nil {
		return ChatSession{}, fmt.Errorf("decode chat messages: %w", err)
	}
	return session, nil
}

// UpsertChatSession persists the whole session document per interaction.
func (s *PostgresStore) UpsertChatSession(ctx context.Context, session ChatSession) error {
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode chat messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, group_id, context, messages, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, group_id) DO UPDATE SET
			context=EXCLUDED.context,
			messages=EXCLUDED.messages,
			updated_at=NOW()
	`, session.ID, session.UserID, session.GroupID, session.Context, messages)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}
