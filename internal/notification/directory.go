package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Platform roles known to the broadcast expansion.
const (
	RoleUser       = "user"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superAdmin"
)

// User is the slice of a platform account the notification core needs.
type User struct {
	ID         string     `json:"id" yaml:"id"`
	Role       string     `json:"role" yaml:"role"`
	Email      string     `json:"email,omitempty" yaml:"email"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" yaml:"-"`
}

// Directory resolves users for broadcasts, email delivery and the seen stamp.
// Accounts are owned by the auth service; this is a read model plus the
// last-seen column.
type Directory interface {
	ListUserIDsByRoles(ctx context.Context, roles []string) ([]string, error)
	LookupEmail(ctx context.Context, userID string) (string, error)
	StampLastSeen(ctx context.Context, userID string, at time.Time) error
	Upsert(ctx context.Context, u User) error
}

// MemoryDirectory is a process-local Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]User
	listErr error
}

// NewMemoryDirectory creates a directory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// ListUserIDsByRoles implements Directory. The result is sorted by id.
func (d *MemoryDirectory) ListUserIDsByRoles(_ context.Context, roles []string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.listErr != nil {
		return nil, d.listErr
	}
	want := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		want[r] = struct{}{}
	}
	ids := make([]string, 0)
	for id, u := range d.users {
		if _, ok := want[u.Role]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LookupEmail implements Directory.
func (d *MemoryDirectory) LookupEmail(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return u.Email, nil
}

// StampLastSeen implements Directory.
func (d *MemoryDirectory) StampLastSeen(_ context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		u = User{ID: userID, Role: RoleUser}
	}
	stamp := at.UTC()
	u.LastSeenAt = &stamp
	d.users[userID] = u
	return nil
}

// Upsert implements Directory.
func (d *MemoryDirectory) Upsert(_ context.Context, u User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.users[u.ID]; ok && u.LastSeenAt == nil {
		u.LastSeenAt = prev.LastSeenAt
	}
	d.users[u.ID] = u
	return nil
}

// SetListError makes ListUserIDsByRoles return err until cleared with nil.
func (d *MemoryDirectory) SetListError(err error) {
	d.mu.Lock()
	d.listErr = err
	d.mu.Unlock()
}

// Get returns a copy of the stored user.
func (d *MemoryDirectory) Get(userID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	return u, ok
}

const (
	createUsersTableSQL = `
CREATE TABLE IF NOT EXISTS notification_users (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL DEFAULT 'user',
	email TEXT NOT NULL DEFAULT '',
	last_seen_notifications_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
	createUsersRoleIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notification_users_role
ON notification_users (role);`
	selectUserIDsByRolesSQL = `
SELECT id FROM notification_users WHERE role = ANY($1) ORDER BY id;`
	selectUserEmailSQL = `
SELECT email FROM notification_users WHERE id = $1;`
	stampLastSeenSQL = `
INSERT INTO notification_users (id, last_seen_notifications_at, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE
SET last_seen_notifications_at = EXCLUDED.last_seen_notifications_at, updated_at = NOW();`
	upsertUserSQL = `
INSERT INTO notification_users (id, role, email, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE
SET role = EXCLUDED.role, email = EXCLUDED.email, updated_at = NOW();`
)

// PostgresDirectory reads the notification_users table.
type PostgresDirectory struct {
	pool     *pgxpool.Pool
	initOnce sync.Once
	initErr  error
}

// NewPostgresDirectory creates a directory backed by pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// ListUserIDsByRoles implements Directory.
func (d *PostgresDirectory) ListUserIDsByRoles(ctx context.Context, roles []string) ([]string, error) {
	if err := d.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := d.pool.Query(ctx, selectUserIDsByRolesSQL, roles)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect user ids: %w", err)
	}
	return ids, nil
}

// LookupEmail implements Directory.
func (d *PostgresDirectory) LookupEmail(ctx context.Context, userID string) (string, error) {
	if err := d.ensureSchema(); err != nil {
		return "", err
	}
	var email string
	err := d.pool.QueryRow(ctx, selectUserEmailSQL, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user email: %w", err)
	}
	return email, nil
}

// StampLastSeen implements Directory.
func (d *PostgresDirectory) StampLastSeen(ctx context.Context, userID string, at time.Time) error {
	if err := d.ensureSchema(); err != nil {
		return err
	}
	if _, err := d.pool.Exec(ctx, stampLastSeenSQL, userID, at.UTC()); err != nil {
		return fmt.Errorf("stamp last seen: %w", err)
	}
	return nil
}

// Upsert implements Directory.
func (d *PostgresDirectory) Upsert(ctx context.Context, u User) error {
	if err := d.ensureSchema(); err != nil {
		return err
	}
	role := strings.TrimSpace(u.Role)
	if role == "" {
		role = RoleUser
	}
	if _, err := d.pool.Exec(ctx, upsertUserSQL, u.ID, role, strings.TrimSpace(u.Email)); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (d *PostgresDirectory) ensureSchema() error {
	d.initOnce.Do(func() {
		if d.pool == nil {
			d.initErr = ErrStoreUnavailable
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := d.pool.Exec(ctx, createUsersTableSQL); err != nil {
			d.initErr = fmt.Errorf("create notification users table: %w", err)
			return
		}
		if _, err := d.pool.Exec(ctx, createUsersRoleIndexSQL); err != nil {
			d.initErr = fmt.Errorf("create notification users role index: %w", err)
		}
	})
	return d.initErr
}

// compile-time checks
var (
	_ Directory = (*MemoryDirectory)(nil)
	_ Directory = (*PostgresDirectory)(nil)
)
