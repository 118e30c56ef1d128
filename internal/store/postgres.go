package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"roundbook/api/internal/rotation"
)

// ErrCodeConflict is returned when an invite code collides with an existing
// one; callers retry with a fresh code.
var ErrCodeConflict = errors.New("invite code conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func jsonStrings(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return raw
}

func scanStrings(raw []byte, dest *[]string) error {
	if len(raw) == 0 {
		*dest = []string{}
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	users := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email FROM users
		WHERE id = ANY(SELECT jsonb_array_elements_text($1::jsonb))
	`, jsonStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is unconfigured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- groups ----

const groupColumns = `id, name, description, created_by, members, turn_order, current_turn_index, is_active, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (Group, error) {
	var group Group
	var members, turnOrder []byte
	err := row.Scan(
		&group.ID,
		&group.Name,
		&group.Description,
		&group.CreatedBy,
		&members,
		&turnOrder,
		&group.CurrentTurnIndex,
		&group.IsActive,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		return Group{}, err
	}
	if err := scanStrings(members, &group.Members); err != nil {
		return Group{}, fmt.Errorf("decode members: %w", err)
	}
	if err := scanStrings(turnOrder, &group.TurnOrder); err != nil {
		return Group{}, fmt.Errorf("decode turn order: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) InsertGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, created_by, members, turn_order, current_turn_index, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, group.ID, group.Name, group.Description, group.CreatedBy,
		jsonStrings(group.Members), jsonStrings(group.TurnOrder), group.CurrentTurnIndex, group.IsActive)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id=$1`, groupID)
	return scanGroup(row)
}

func (s *PostgresStore) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM groups
		WHERE members @> to_jsonb($1::text) AND is_active
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// AdvanceTurn runs the validated turn transition for a group inside one
// transaction with the group row locked, so concurrent submits serialize and
// the loser observes the advanced pointer. When entry is non-nil it is
// persisted with the pre-advance index snapshot.
func (s *PostgresStore) AdvanceTurn(ctx context.Context, groupID, actorID string, entry *Entry) (Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("begin turn tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id=$1 FOR UPDATE`, groupID)
	group, err := scanGroup(row)
	if err != nil {
		return Group{}, err
	}

	if err := rotation.ValidateHolder(group.Members, group.TurnOrder, group.CurrentTurnIndex, actorID); err != nil {
		return Group{}, err
	}

	if entry != nil {
		entry.TurnIndex = group.CurrentTurnIndex
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (id, group_id, author_id, title, content, photo_keys, tags, is_quick_reflection, turn_index, entry_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, entry.ID, entry.GroupID, entry.AuthorID, entry.Title, entry.Content,
			jsonStrings(entry.PhotoKeys), jsonStrings(entry.Tags), entry.IsQuickReflection, entry.TurnIndex, entry.EntryDate); err != nil {
			return Group{}, fmt.Errorf("insert entry: %w", err)
		}
	}

	next := rotation.Advance(group.CurrentTurnIndex, len(group.TurnOrder))
	if _, err := tx.ExecContext(ctx, `
		UPDATE groups SET current_turn_index=$2, updated_at=NOW() WHERE id=$1
	`, groupID, next); err != nil {
		return Group{}, fmt.Errorf("advance turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit turn tx: %w", err)
	}
	group.CurrentTurnIndex = next
	return group, nil
}

// RedeemInvitation flips a pending invitation to accepted and appends the
// redeemer to both members and turn_order in one transaction, locking the
// group row; a failed append rolls the status flip back so the code stays
// redeemable. The turn pointer is never adjusted on join. The bool reports
// whether the invitation row changed; false means it was already resolved.
func (s *PostgresStore) RedeemInvitation(ctx context.Context, inviteID, groupID, userID string) (Group, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, false, fmt.Errorf("begin redeem tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id=$1 FOR UPDATE`, groupID)
	group, err := scanGroup(row)
	if err != nil {
		return Group{}, false, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE invitations SET status='accepted' WHERE id=$1 AND status='pending'
	`, inviteID)
	if err != nil {
		return Group{}, false, fmt.Errorf("accept invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Group{}, false, fmt.Errorf("accept invitation rows: %w", err)
	}
	if affected == 0 {
		return Group{}, false, nil
	}

	already := false
	for _, member := range group.Members {
		if member == userID {
			already = true
			break
		}
	}
	if !already {
		group.Members = append(group.Members, userID)
		group.TurnOrder = append(group.TurnOrder, userID)
		if _, err := tx.ExecContext(ctx, `
			UPDATE groups SET members=$2, turn_order=$3, updated_at=NOW() WHERE id=$1
		`, groupID, jsonStrings(group.Members), jsonStrings(group.TurnOrder)); err != nil {
			return Group{}, false, fmt.Errorf("append member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Group{}, false, fmt.Errorf("commit redeem tx: %w", err)
	}
	return group, true, nil
}

// ---- invitations ----

func (s *PostgresStore) InsertInvitation(ctx context.Context, invite Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, group_id, invited_by, invited_email, invite_code, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, invite.ID, invite.GroupID, invite.InvitedBy, invite.InvitedEmail, invite.InviteCode, invite.Status, invite.ExpiresAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCodeConflict
	}
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitationByCode(ctx context.Context, code string) (Invitation, error) {
	var invite Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, invited_by, invited_email, invite_code, status, expires_at, created_at
		FROM invitations WHERE invite_code=$1
	`, code).Scan(
		&invite.ID,
		&invite.GroupID,
		&invite.InvitedBy,
		&invite.InvitedEmail,
		&invite.InviteCode,
		&invite.Status,
		&invite.ExpiresAt,
		&invite.CreatedAt,
	)
	if err != nil {
		return Invitation{}, err
	}
	return invite, nil
}

// ResolveInvitation flips a pending invitation to the given status and
// reports whether the row changed; a false result means the invitation was
// already resolved.
func (s *PostgresStore) ResolveInvitation(ctx context.Context, inviteID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status=$2 WHERE id=$1 AND status='pending'
	`, inviteID, status)
	if err != nil {
		return false, fmt.Errorf("resolve invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve invitation rows: %w", err)
	}
	return affected > 0, nil
}
