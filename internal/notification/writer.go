package notification

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
)

// Outbox hands a freshly written record to out-of-band channels such as email.
type Outbox interface {
	EnqueueEmail(ctx context.Context, rec Record) error
}

// Writer validates, normalizes and persists single-recipient notifications.
//
// Preferences are not consulted here: every accepted request produces an
// in-app record. Channel preferences gate the email outbox only.
type Writer struct {
	store  Store
	hints  HintStore
	outbox Outbox
	clock  func() time.Time
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithHints publishes a latest hint after every insert.
func WithHints(h HintStore) WriterOption {
	return func(w *Writer) { w.hints = h }
}

// WithOutbox forwards every written record to o.
func WithOutbox(o Outbox) WriterOption {
	return func(w *Writer) { w.outbox = o }
}

// WithClock overrides the creation clock.
func WithClock(clock func() time.Time) WriterOption {
	return func(w *Writer) { w.clock = clock }
}

// NewWriter creates a Writer over store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create writes one notification for in.UserID.
//
// Errors: *ValidationError for a malformed input, *WriteError when the store
// rejects the insert. Hint and outbox failures are logged and swallowed.
func (w *Writer) Create(ctx context.Context, in CreateInput) (Created, error) {
	rec, err := w.build(in)
	if err != nil {
		return Created{}, err
	}

	if err := w.store.Insert(ctx, &rec); err != nil {
		return Created{}, &WriteError{UserID: rec.UserID, Err: err}
	}

	log := logger.From(ctx)
	if w.hints != nil {
		if err := w.hints.Publish(ctx, rec.UserID, rec.CreatedAt); err != nil {
			log.Warn("latest hint publish failed",
				zap.String("user_id", rec.UserID),
				zap.String("notification_id", rec.ID),
				zap.Error(err),
			)
		}
	}
	if w.outbox != nil {
		if err := w.outbox.EnqueueEmail(ctx, rec); err != nil {
			log.Warn("email outbox enqueue failed",
				zap.String("user_id", rec.UserID),
				zap.String("notification_id", rec.ID),
				zap.Error(err),
			)
		}
	}

	log.Debug("notification created",
		zap.String("user_id", rec.UserID),
		zap.String("notification_id", rec.ID),
		zap.String("type", rec.Type),
	)

	return Created{ID: rec.ID, CreatedAt: rec.CreatedAt}, nil
}

func (w *Writer) build(in CreateInput) (Record, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Type = strings.TrimSpace(in.Type)
	in.Title = strings.TrimSpace(in.Title)

	fields := map[string]string{}
	if in.UserID == "" {
		fields["userId"] = "required"
	}
	if in.Type == "" {
		fields["type"] = "required"
	}
	if in.Title == "" {
		fields["title"] = "required"
	}
	if in.Priority != "" && !in.Priority.Valid() {
		fields["priority"] = "must be one of low, normal, high"
	}
	if len(fields) > 0 {
		return Record{}, &ValidationError{Fields: fields}
	}

	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	createdAt := w.clock().UTC().Truncate(time.Millisecond)
	id, err := newIDAt(createdAt)
	if err != nil {
		return Record{}, &WriteError{UserID: in.UserID, Err: err}
	}

	return Record{
		ID:           id,
		UserID:       in.UserID,
		Type:         in.Type,
		Title:        truncate(in.Title, MaxTitleLength),
		Body:         truncate(in.Body, MaxBodyLength),
		Href:         NormalizeHref(in.Href, in.Type, in.Meta),
		Meta:         in.Meta,
		ActorID:      strings.TrimSpace(in.ActorID),
		ResourceType: strings.TrimSpace(in.ResourceType),
		ResourceID:   strings.TrimSpace(in.ResourceID),
		Priority:     priority,
		Channel:      ChannelInApp,
		CreatedAt:    createdAt,
	}, nil
}

// lastID is the most recent id minted by newIDAt in this process.
var lastID struct {
	sync.Mutex
	id uuid.UUID
}

// newIDAt returns a UUIDv7 whose 48-bit timestamp is at's Unix milliseconds,
// so sorting ids and sorting createdAt agree. Ids minted in the same
// millisecond are strictly increasing within the process.
func newIDAt(at time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate notification id: %w", err)
	}
	ms := uint64(at.UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)

	lastID.Lock()
	defer lastID.Unlock()
	if bytes.Equal(id[:6], lastID.id[:6]) && bytes.Compare(id[:], lastID.id[:]) <= 0 {
		id = lastID.id
		for i := len(id) - 1; i >= 9; i-- {
			id[i]++
			if id[i] != 0 {
				break
			}
		}
	}
	lastID.id = id
	return id.String(), nil
}
