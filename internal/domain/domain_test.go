package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaceseal.io/herald/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestDecodePayload(t *testing.T) {
	event := &DomainEvent{
		EventType: EventSolutionLiked,
		Payload:   json.RawMessage(`{"solutionId":"42","solutionAuthorId":"u-1","likerId":"u-2","campaignSlug":"peace-now"}`),
	}

	got, err := DecodePayload[SolutionLikedPayload](event)
	require.NoError(t, err)
	assert.Equal(t, "42", got.SolutionID)
	assert.Equal(t, "u-1", got.SolutionAuthorID)
	assert.Equal(t, "u-2", got.LikerID)
	assert.Equal(t, "peace-now", got.CampaignSlug)
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload[SolutionLikedPayload](&DomainEvent{EventType: EventSolutionLiked})
	require.Error(t, err)

	_, err = DecodePayload[SolutionLikedPayload](&DomainEvent{
		EventType: EventSolutionLiked,
		Payload:   json.RawMessage(`{"solutionId":`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLUTION_LIKED")
}

func TestEventType_Known(t *testing.T) {
	for _, et := range KnownEventTypes() {
		assert.True(t, et.Known(), et)
	}
	assert.False(t, EventType("VM_CREATED").Known())
}

func TestEventDispatcher_RunsAllHandlers(t *testing.T) {
	d := NewEventDispatcher()
	var calls []string
	d.Register(EventCommentPosted, func(context.Context, *DomainEvent) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Register(EventCommentPosted, func(context.Context, *DomainEvent) error {
		calls = append(calls, "second")
		return nil
	})

	err := d.Dispatch(context.Background(), &DomainEvent{EventID: "e-1", EventType: EventCommentPosted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.True(t, d.Handles(EventCommentPosted))
}

func TestEventDispatcher_NoHandler(t *testing.T) {
	d := NewEventDispatcher()
	err := d.Dispatch(context.Background(), &DomainEvent{EventID: "e-2", EventType: EventContentReported})
	require.ErrorIs(t, err, ErrNoHandler)
	assert.False(t, d.Handles(EventContentReported))
}
