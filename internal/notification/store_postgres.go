package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT COLLATE "C" PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	href TEXT NOT NULL DEFAULT '',
	meta JSONB,
	actor_id TEXT NOT NULL DEFAULT '',
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT 'normal',
	channel TEXT NOT NULL DEFAULT 'inapp',
	created_at TIMESTAMPTZ NOT NULL,
	read_at TIMESTAMPTZ
);`
	createNotificationsUserCreatedIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notifications_user_created_at
ON notifications (user_id, created_at DESC);`
	createNotificationsUnreadIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
ON notifications (user_id) WHERE read_at IS NULL;`

	insertNotificationSQL = `
INSERT INTO notifications (
	id, user_id, type, title, body, href, meta,
	actor_id, resource_type, resource_id, priority, channel, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`
	selectNotificationColumns = `
SELECT id, user_id, type, title, body, href, meta,
	actor_id, resource_type, resource_id, priority, channel, created_at, read_at
FROM notifications`
	markNotificationReadSQL = `
UPDATE notifications SET read_at = $3
WHERE id = $1 AND user_id = $2 AND read_at IS NULL;`
	markAllNotificationsReadSQL = `
UPDATE notifications SET read_at = $2
WHERE user_id = $1 AND read_at IS NULL;`
	countUnreadNotificationsSQL = `
SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL;`
	deleteNotificationsBeforeSQL = `
DELETE FROM notifications WHERE created_at < $1;`
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore persists notifications in PostgreSQL so every replica and
// every stream session sees the same log.
type PostgresStore struct {
	pool     *pgxpool.Pool
	now      func() time.Time
	initOnce sync.Once
	initErr  error
}

// NewPostgresStore creates a store backed by pool. The table is created on
// first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	if rec == nil {
		return &StoreError{Op: "insert", Err: errors.New("nil record")}
	}

	var meta []byte
	if len(rec.Meta) > 0 {
		b, err := json.Marshal(rec.Meta)
		if err != nil {
			return &StoreError{Op: "insert", Err: fmt.Errorf("encode meta: %w", err)}
		}
		meta = b
	}

	_, err := s.pool.Exec(ctx, insertNotificationSQL,
		rec.ID, rec.UserID, rec.Type, rec.Title, rec.Body, rec.Href, meta,
		rec.ActorID, rec.ResourceType, rec.ResourceID,
		string(rec.Priority), string(rec.Channel), rec.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &StoreError{Op: "insert", Err: ErrDuplicateID}
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListByUser implements Store.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Record, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}

	where := []string{"user_id = $1"}
	args := []any{userID}
	switch {
	case opts.After != nil && opts.AfterID != "":
		args = append(args, opts.After.UTC(), opts.AfterID)
		where = append(where, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	case opts.After != nil:
		args = append(args, opts.After.UTC())
		where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
	}
	if opts.Before != nil {
		args = append(args, opts.Before.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, ClampLimit(opts.Limit))

	dir := "DESC"
	if opts.Ascending {
		dir = "ASC"
	}
	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at %s, id %s LIMIT $%d",
		selectNotificationColumns, strings.Join(where, " AND "), dir, dir, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkRead implements Store.
func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	if err := s.ensureSchema(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, markNotificationReadSQL, id, userID, s.now())
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllRead implements Store.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := s.ensureSchema(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, markAllNotificationsReadSQL, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread implements Store.
func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	if err := s.ensureSchema(); err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, countUnreadNotificationsSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// DeleteBefore implements Store.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ensureSchema(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, deleteNotificationsBeforeSQL, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		meta     []byte
		priority string
		channel  string
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Title, &rec.Body, &rec.Href, &meta,
		&rec.ActorID, &rec.ResourceType, &rec.ResourceID, &priority, &channel,
		&rec.CreatedAt, &rec.ReadAt,
	); err != nil {
		return Record{}, fmt.Errorf("scan notification: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Meta); err != nil {
			return Record{}, fmt.Errorf("decode notification meta: %w", err)
		}
	}
	rec.Priority = Priority(priority)
	rec.Channel = Channel(channel)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.ReadAt != nil {
		readAt := rec.ReadAt.UTC()
		rec.ReadAt = &readAt
	}
	return rec, nil
}

func (s *PostgresStore) ensureSchema() error {
	s.initOnce.Do(func() {
		if s.pool == nil {
			s.initErr = ErrStoreUnavailable
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, stmt := range []struct{ name, sql string }{
			{"create notifications table", createNotificationsTableSQL},
			{"create notifications user index", createNotificationsUserCreatedIndexSQL},
			{"create notifications unread index", createNotificationsUnreadIndexSQL},
		} {
			if _, err := s.pool.Exec(ctx, stmt.sql); err != nil {
				s.initErr = fmt.Errorf("%s: %w", stmt.name, err)
				return
			}
		}
	})
	return s.initErr
}

// compile-time check
var _ Store = (*PostgresStore)(nil)
