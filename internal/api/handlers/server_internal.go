package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/domain"
	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/pkg/logger"
)

// PublishEventRequest is the body of the internal POST /events.
type PublishEventRequest struct {
	EventID       string          `json:"eventId,omitempty"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregateType,omitempty"`
	AggregateID   string          `json:"aggregateId"`
	Payload       json.RawMessage `json:"payload"`
	CreatedBy     string          `json:"createdBy,omitempty"`
}

// PublishEventResponse acknowledges an accepted event.
type PublishEventResponse struct {
	EventID string `json:"eventId"`
}

// PublishEvent handles POST /events. The event is validated synchronously
// and handed to the trigger handlers on the general worker pool; the caller
// gets 202 as soon as it is queued.
func (s *Server) PublishEvent(c *gin.Context) {
	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "invalid request body", http.StatusBadRequest))
		return
	}

	eventType := domain.EventType(strings.TrimSpace(req.Type))
	if !eventType.Known() {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, fmt.Sprintf("unknown event type %q", req.Type)))
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "payload is required"))
		return
	}

	event := &domain.DomainEvent{
		EventID:       strings.TrimSpace(req.EventID),
		EventType:     eventType,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		Payload:       req.Payload,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if event.EventID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			_ = c.Error(fmt.Errorf("generate event id: %w", err))
			return
		}
		event.EventID = id.String()
	}

	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
	}

	if s.pools == nil {
		s.dispatch(logger.Into(c.Request.Context(), fields...), event)
	} else {
		err := s.pools.SubmitDetached("general", func(ctx context.Context) {
			s.dispatch(logger.Into(ctx, fields...), event)
		})
		if err != nil {
			logger.From(c.Request.Context()).Warn("event not queued", append(fields, zap.Error(err))...)
			_ = c.Error(apperrors.ServiceUnavailable(apperrors.CodeUnavailable, "event could not be queued").
				WithParams(map[string]interface{}{"pool": "general"}))
			return
		}
	}

	c.JSON(http.StatusAccepted, PublishEventResponse{EventID: event.EventID})
}

func (s *Server) dispatch(ctx context.Context, event *domain.DomainEvent) {
	if err := s.events.Dispatch(ctx, event); err != nil {
		logger.From(ctx).Error("domain event dispatch failed", zap.Error(err))
	}
}
