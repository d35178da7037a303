package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable per-user notification log.
type Store interface {
	// Insert persists a new record. A duplicate id yields a *StoreError.
	Insert(ctx context.Context, rec *Record) error
	// ListByUser returns the user's records filtered and ordered by opts.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Record, error)
	// MarkRead stamps readAt on an unread record owned by userID.
	// It reports whether a row changed; a second call is a no-op.
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	// MarkAllRead stamps every unread record of userID and returns the count.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	// CountUnread counts records of userID with no readAt.
	CountUnread(ctx context.Context, userID string) (int, error)
	// DeleteBefore removes records created before cutoff, for every user.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is a process-local Store for tests and single-node dev runs.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]*Record
	ids    map[string]struct{}
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string][]*Record),
		ids:    make(map[string]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	if rec == nil {
		return &StoreError{Op: "insert", Err: ErrStoreUnavailable}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[rec.ID]; exists {
		return &StoreError{Op: "insert", Err: ErrDuplicateID}
	}
	cp := cloneRecord(*rec)
	s.ids[rec.ID] = struct{}{}
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], &cp)
	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	for _, rec := range s.byUser[userID] {
		if opts.After != nil && !Follows(*rec, *opts.After, opts.AfterID) {
			continue
		}
		if opts.Before != nil && !rec.CreatedAt.Before(*opts.Before) {
			continue
		}
		out = append(out, cloneRecord(*rec))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if limit := ClampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.byUser[userID] {
		if rec.ID != id {
			continue
		}
		if rec.ReadAt != nil {
			return false, nil
		}
		now := s.now()
		rec.ReadAt = &now
		return true, nil
	}
	return false, nil
}

// MarkAllRead implements Store.
func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, rec := range s.byUser[userID] {
		if rec.ReadAt == nil {
			stamp := now
			rec.ReadAt = &stamp
			n++
		}
	}
	return n, nil
}

// CountUnread implements Store.
func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.byUser[userID] {
		if rec.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// DeleteBefore implements Store.
func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for userID, recs := range s.byUser {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.CreatedAt.Before(cutoff) {
				delete(s.ids, rec.ID)
				n++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.byUser, userID)
			continue
		}
		s.byUser[userID] = kept
	}
	return n, nil
}

func cloneRecord(r Record) Record {
	if r.Meta != nil {
		meta := make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			meta[k] = v
		}
		r.Meta = meta
	}
	if r.ReadAt != nil {
		readAt := *r.ReadAt
		r.ReadAt = &readAt
	}
	return r
}

// compile-time check
var _ Store = (*MemoryStore)(nil)
