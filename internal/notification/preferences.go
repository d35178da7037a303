package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Preferences are a user's channel switches. Both default to enabled.
type Preferences struct {
	InAppEnabled bool `json:"inappEnabled"`
	EmailEnabled bool `json:"emailEnabled"`
}

// DefaultPreferences applies to users who never saved any.
func DefaultPreferences() Preferences {
	return Preferences{InAppEnabled: true, EmailEnabled: true}
}

// PreferencesPatch is a partial update; nil fields keep their value.
type PreferencesPatch struct {
	InAppEnabled *bool `json:"inappEnabled,omitempty"`
	EmailEnabled *bool `json:"emailEnabled,omitempty"`
}

// Apply returns p with the patch's non-nil fields applied.
func (patch PreferencesPatch) Apply(p Preferences) Preferences {
	if patch.InAppEnabled != nil {
		p.InAppEnabled = *patch.InAppEnabled
	}
	if patch.EmailEnabled != nil {
		p.EmailEnabled = *patch.EmailEnabled
	}
	return p
}

// PreferenceStore persists Preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	Update(ctx context.Context, userID string, patch PreferencesPatch) (Preferences, error)
}

// MemoryPreferenceStore is a process-local PreferenceStore.
type MemoryPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]Preferences
}

// NewMemoryPreferenceStore creates an empty store.
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]Preferences)}
}

// Get implements PreferenceStore.
func (s *MemoryPreferenceStore) Get(_ context.Context, userID string) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	return DefaultPreferences(), nil
}

// Update implements PreferenceStore.
func (s *MemoryPreferenceStore) Update(_ context.Context, userID string, patch PreferencesPatch) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		p = DefaultPreferences()
	}
	p = patch.Apply(p)
	s.prefs[userID] = p
	return p, nil
}

const (
	createPreferencesTableSQL = `
CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id TEXT PRIMARY KEY,
	inapp_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	email_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
	selectPreferencesSQL = `
SELECT inapp_enabled, email_enabled FROM notification_preferences WHERE user_id = $1;`
	// COALESCE keeps the stored value for keys absent from the patch.
	upsertPreferencesSQL = `
INSERT INTO notification_preferences (user_id, inapp_enabled, email_enabled, updated_at)
VALUES ($1, COALESCE($2, TRUE), COALESCE($3, TRUE), NOW())
ON CONFLICT (user_id) DO UPDATE SET
	inapp_enabled = COALESCE($2, notification_preferences.inapp_enabled),
	email_enabled = COALESCE($3, notification_preferences.email_enabled),
	updated_at = NOW()
RETURNING inapp_enabled, email_enabled;`
)

// PostgresPreferenceStore keeps preferences in notification_preferences.
type PostgresPreferenceStore struct {
	pool     *pgxpool.Pool
	initOnce sync.Once
	initErr  error
}

// NewPostgresPreferenceStore creates a store backed by pool.
func NewPostgresPreferenceStore(pool *pgxpool.Pool) *PostgresPreferenceStore {
	return &PostgresPreferenceStore{pool: pool}
}

// Get implements PreferenceStore.
func (s *PostgresPreferenceStore) Get(ctx context.Context, userID string) (Preferences, error) {
	if err := s.ensureSchema(); err != nil {
		return Preferences{}, err
	}
	var p Preferences
	err := s.pool.QueryRow(ctx, selectPreferencesSQL, userID).Scan(&p.InAppEnabled, &p.EmailEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

// Update implements PreferenceStore.
func (s *PostgresPreferenceStore) Update(ctx context.Context, userID string, patch PreferencesPatch) (Preferences, error) {
	if err := s.ensureSchema(); err != nil {
		return Preferences{}, err
	}
	var p Preferences
	err := s.pool.QueryRow(ctx, upsertPreferencesSQL, userID, patch.InAppEnabled, patch.EmailEnabled).
		Scan(&p.InAppEnabled, &p.EmailEnabled)
	if err != nil {
		return Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	return p, nil
}

func (s *PostgresPreferenceStore) ensureSchema() error {
	s.initOnce.Do(func() {
		if s.pool == nil {
			s.initErr = ErrStoreUnavailable
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.pool.Exec(ctx, createPreferencesTableSQL); err != nil {
			s.initErr = fmt.Errorf("create notification preferences table: %w", err)
		}
	})
	return s.initErr
}

// compile-time checks
var (
	_ PreferenceStore = (*MemoryPreferenceStore)(nil)
	_ PreferenceStore = (*PostgresPreferenceStore)(nil)
)
