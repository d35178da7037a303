// Package domain holds the platform events the notification core reacts to.
//
// Events are produced by the campaign, moderation and certification services
// and delivered either in-process or through POST /api/v1/events.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Campaign discussion
	EventCommentPosted  EventType = "COMMENT_POSTED"
	EventCommentReplied EventType = "COMMENT_REPLIED"
	EventSolutionLiked  EventType = "SOLUTION_LIKED"

	// Moderation
	EventContentReported EventType = "CONTENT_REPORTED"

	// Peace Seal certification
	EventPeaceSealStatusChanged EventType = "PEACE_SEAL_STATUS_CHANGED"
)

// KnownEventTypes lists every event type accepted from external producers.
func KnownEventTypes() []EventType {
	return []EventType{
		EventCommentPosted,
		EventCommentReplied,
		EventSolutionLiked,
		EventContentReported,
		EventPeaceSealStatusChanged,
	}
}

// Known reports whether t is one of KnownEventTypes.
func (t EventType) Known() bool {
	for _, k := range KnownEventTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// DomainEvent is an immutable fact published by another service.
// Payload is the event-specific JSON document.
type DomainEvent struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"type"`
	AggregateType string          `json:"aggregateType,omitempty"`
	AggregateID   string          `json:"aggregateId"`
	Payload       json.RawMessage `json:"payload"`
	CreatedBy     string          `json:"createdBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// DecodePayload unmarshals the event payload into T.
func DecodePayload[T any](event *DomainEvent) (T, error) {
	var out T
	if event == nil || len(event.Payload) == 0 {
		return out, fmt.Errorf("event has no payload")
	}
	if err := json.Unmarshal(event.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return out, nil
}

// CommentPostedPayload is a new top-level comment on a campaign solution.
type CommentPostedPayload struct {
	CommentID        string `json:"commentId"`
	SolutionID       string `json:"solutionId"`
	SolutionAuthorID string `json:"solutionAuthorId"`
	CampaignSlug     string `json:"campaignSlug"`
	AuthorID         string `json:"authorId"`
	AuthorName       string `json:"authorName"`
	Excerpt          string `json:"excerpt"`
}

// CommentRepliedPayload is a reply to an existing comment.
type CommentRepliedPayload struct {
	CommentID      string `json:"commentId"`
	ParentID       string `json:"parentId"`
	ParentAuthorID string `json:"parentAuthorId"`
	SolutionID     string `json:"solutionId"`
	CampaignSlug   string `json:"campaignSlug"`
	AuthorID       string `json:"authorId"`
	AuthorName     string `json:"authorName"`
	Excerpt        string `json:"excerpt"`
}

// SolutionLikedPayload is a like on a campaign solution.
type SolutionLikedPayload struct {
	SolutionID       string `json:"solutionId"`
	SolutionTitle    string `json:"solutionTitle"`
	SolutionAuthorID string `json:"solutionAuthorId"`
	CampaignSlug     string `json:"campaignSlug"`
	LikerID          string `json:"likerId"`
	LikerName        string `json:"likerName"`
}

// ContentReportedPayload is a user report awaiting moderation.
type ContentReportedPayload struct {
	ContentType  string `json:"contentType"`
	ContentID    string `json:"contentId"`
	CampaignSlug string `json:"campaignSlug,omitempty"`
	ReporterID   string `json:"reporterId"`
	Reason       string `json:"reason"`
}

// PeaceSealStatusChangedPayload is a certification review decision.
type PeaceSealStatusChangedPayload struct {
	ApplicationID string `json:"applicationId"`
	ApplicantID   string `json:"applicantId"`
	Organization  string `json:"organization"`
	Status        string `json:"status"`
	ChangedBy     string `json:"changedBy"`
	Note          string `json:"note,omitempty"`
}
