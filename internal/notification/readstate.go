package notification

import (
	"context"
	"fmt"
	"time"
)

// ReadTracker owns per-record read state and the per-user "seen" stamp.
// All operations are idempotent.
type ReadTracker struct {
	store     Store
	directory Directory
	clock     func() time.Time
}

// NewReadTracker creates a tracker. directory may be nil, in which case
// MarkSeen only marks records read.
func NewReadTracker(store Store, directory Directory) *ReadTracker {
	return &ReadTracker{store: store, directory: directory, clock: time.Now}
}

// MarkRead marks one record read. Unknown, foreign or already-read ids are
// a silent no-op.
func (t *ReadTracker) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := t.store.MarkRead(ctx, userID, id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread record of userID read.
func (t *ReadTracker) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := t.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return n, nil
}

// UnreadCount returns the badge count for userID.
func (t *ReadTracker) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := t.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkSeen marks everything read and stamps the user's last-seen time, which
// clients use to suppress the badge independently of per-record state.
func (t *ReadTracker) MarkSeen(ctx context.Context, userID string) error {
	if _, err := t.MarkAllRead(ctx, userID); err != nil {
		return err
	}
	if t.directory == nil {
		return nil
	}
	if err := t.directory.StampLastSeen(ctx, userID, t.clock().UTC()); err != nil {
		return fmt.Errorf("stamp last seen: %w", err)
	}
	return nil
}
