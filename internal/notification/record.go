// Package notification implements the durable per-user notification log and
// the services that write to it.
//
// Records are created by the Writer (single recipient) or the Dispatcher
// (role broadcast), persisted through a Store, and announced to live stream
// sessions through an optional HintStore. Read state and channel preferences
// are tracked alongside.
package notification

import (
	"time"
	"unicode/utf8"
)

// Type constants used by the built-in triggers. Types are opaque to the
// store; clients use them for grouping and iconography.
const (
	TypeLike         = "like"
	TypeComment      = "comment"
	TypeCommentReply = "comment_reply"
	TypeModeration   = "moderation"
	TypePeaceSeal    = "peace_seal"
)

const (
	// MaxTitleLength is the stored title length in characters.
	MaxTitleLength = 200
	// MaxBodyLength is the stored body length in characters.
	MaxBodyLength = 500

	// DefaultListLimit applies when a caller passes no limit.
	DefaultListLimit = 20
	// MaxListLimit caps every listing query.
	MaxListLimit = 100
)

// Priority orders notifications for display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Channel tags the delivery channel of a record.
type Channel string

// ChannelInApp is the only channel persisted by the Writer.
const ChannelInApp Channel = "inapp"

// Record is one notification owned by exactly one user.
type Record struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Body         string         `json:"body,omitempty"`
	Href         string         `json:"href,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	ActorID      string         `json:"actorId,omitempty"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Priority     Priority       `json:"priority"`
	Channel      Channel        `json:"channel"`
	CreatedAt    time.Time      `json:"createdAt"`
	ReadAt       *time.Time     `json:"readAt"`
}

// Unread reports whether the record has not been marked read.
func (r Record) Unread() bool {
	return r.ReadAt == nil
}

// CreateInput is the request accepted by Writer.Create.
type CreateInput struct {
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Body         string         `json:"body,omitempty"`
	Href         string         `json:"href,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	ActorID      string         `json:"actorId,omitempty"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Priority     Priority       `json:"priority,omitempty"`
}

// Created identifies a freshly written record.
type Created struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListOptions filters ListByUser. After and Before are exclusive bounds on
// CreatedAt. When AfterID is set together with After, the lower bound is the
// (CreatedAt, ID) pair, so records sharing After's millisecond with a larger
// id are still returned. Results are newest-first unless Ascending is set.
type ListOptions struct {
	After     *time.Time
	AfterID   string
	Before    *time.Time
	Limit     int
	Ascending bool
}

// Follows reports whether rec sorts after the (at, id) cursor. An empty id
// compares on time alone.
func Follows(rec Record, at time.Time, id string) bool {
	if rec.CreatedAt.Equal(at) {
		return id != "" && rec.ID > id
	}
	return rec.CreatedAt.After(at)
}

// ClampLimit maps a requested page size into [1, MaxListLimit], using
// DefaultListLimit for zero or negative values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// EpochMillis renders t as Unix milliseconds, the unit used for hints and
// stream event ids.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
