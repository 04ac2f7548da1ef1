package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/log"
)

// PostgresStore persists sessions in PostgreSQL. Tags are a text array,
// metadata is JSONB. Delete is a soft delete: the row stays, status flips
// to deleted and the session disappears from Get/List.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, logger log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func validateKeys(ownerID, sessionID string) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}
	if sessionID == "" {
		return ErrEmptyID
	}
	return nil
}

// Get returns the session, or ErrNotFound for missing and soft-deleted rows.
func (s *PostgresStore) Get(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT session_id, owner_id, title, message_count, last_activity,
		       status, starred, tags, metadata, created_at
		FROM sessions
		WHERE owner_id = $1 AND session_id = $2 AND status <> 'deleted'`,
		ownerID, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return sess, nil
}

// Upsert creates or fully replaces a session record.
func (s *PostgresStore) Upsert(ctx context.Context, sess *Session) error {
	if err := validateKeys(sess.OwnerID, sess.ID); err != nil {
		return err
	}

	metadataJSON, err := marshalMetadata(sess.Metadata)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, owner_id, title, message_count, last_activity,
		                      status, starred, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (owner_id, session_id) DO UPDATE SET
			title = EXCLUDED.title,
			message_count = EXCLUDED.message_count,
			last_activity = EXCLUDED.last_activity,
			status = EXCLUDED.status,
			starred = EXCLUDED.starred,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata`,
		sess.ID, sess.OwnerID, sess.Title, sess.MessageCount, sess.LastActivity,
		string(sess.Status), sess.Starred, sess.Tags, metadataJSON); err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}

	s.logger.Debug("upserted session", "session_id", sess.ID, "owner_id", sess.OwnerID)
	return nil
}

// Update applies a partial mutation. Touching a missing or soft-deleted
// session returns ErrNotFound.
func (s *PostgresStore) Update(ctx context.Context, ownerID, sessionID string, upd Update) error {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return err
	}

	sets := make([]string, 0, 7)
	args := []any{ownerID, sessionID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Title != nil {
		sets = append(sets, "title = "+arg(*upd.Title))
	}
	if upd.MessageCount != nil {
		sets = append(sets, "message_count = "+arg(*upd.MessageCount))
	}
	if upd.LastActivity != nil {
		sets = append(sets, "last_activity = "+arg(*upd.LastActivity))
	}
	if upd.Status != nil {
		sets = append(sets, "status = "+arg(string(*upd.Status)))
	}
	if upd.Starred != nil {
		sets = append(sets, "starred = "+arg(*upd.Starred))
	}
	if upd.Tags != nil {
		sets = append(sets, "tags = "+arg(upd.Tags))
	}
	if upd.Metadata != nil {
		metadataJSON, err := marshalMetadata(upd.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = "+arg(metadataJSON))
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+
			" WHERE owner_id = $1 AND session_id = $2 AND status <> 'deleted'",
		args...)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes: the record is marked deleted, never removed.
func (s *PostgresStore) Delete(ctx context.Context, ownerID, sessionID string) error {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'deleted'
		WHERE owner_id = $1 AND session_id = $2 AND status <> 'deleted'`,
		ownerID, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("soft-deleted session", "session_id", sessionID, "owner_id", ownerID)
	return nil
}

// List returns non-deleted sessions ordered by last activity descending.
func (s *PostgresStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*Session, int, error) {
	if ownerID == "" {
		return nil, 0, ErrEmptyOwner
	}

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM sessions
		WHERE owner_id = $1 AND status <> 'deleted'`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, owner_id, title, message_count, last_activity,
		       status, starred, tags, metadata, created_at
		FROM sessions
		WHERE owner_id = $1 AND status <> 'deleted'
		ORDER BY last_activity DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, total, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess         Session
		status       string
		metadataJSON []byte
	)
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.MessageCount,
		&sess.LastActivity, &status, &sess.Starred, &sess.Tags,
		&metadataJSON, &sess.CreatedAt); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &sess, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return b, nil
}
