package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/notification"
	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/pkg/logger"
)

// NotificationList is the body of GET /notifications.
type NotificationList struct {
	Items []notification.Record `json:"items"`
}

// UnreadCount is the body of GET /notifications/unread-count.
type UnreadCount struct {
	Count int `json:"count"`
}

// CreateNotificationRequest is the internal create body. Exactly one of
// UserID and BroadcastRole addresses the notification; BroadcastRole wins
// when both are set.
type CreateNotificationRequest struct {
	notification.CreateInput
	BroadcastRole string `json:"broadcastRole,omitempty"`
}

// CreateNotificationResponse reports what an internal create produced.
type CreateNotificationResponse struct {
	Success   bool       `json:"success"`
	ID        string     `json:"id,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Delivered *int       `json:"delivered,omitempty"`
	Failed    *int       `json:"failed,omitempty"`
}

// ListNotifications handles GET /notifications?limit&after&before.
func (s *Server) ListNotifications(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	opts := notification.ListOptions{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "limit must be an integer"))
			return
		}
		opts.Limit = limit
	}
	opts.Limit = notification.ClampLimit(opts.Limit)

	var err error
	if opts.After, err = parseCursor(c.Query("after")); err != nil {
		_ = c.Error(apperrors.ErrInvalidCursorf("after"))
		return
	}
	if opts.Before, err = parseCursor(c.Query("before")); err != nil {
		_ = c.Error(apperrors.ErrInvalidCursorf("before"))
		return
	}

	items, err := s.store.ListByUser(c.Request.Context(), user.ID, opts)
	if err != nil {
		_ = c.Error(fmt.Errorf("list notifications: %w", err))
		return
	}
	if items == nil {
		items = []notification.Record{}
	}

	c.JSON(http.StatusOK, NotificationList{Items: items})
}

// GetUnreadCount handles GET /notifications/unread-count.
func (s *Server) GetUnreadCount(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	count, err := s.reads.UnreadCount(c.Request.Context(), user.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, UnreadCount{Count: count})
}

// MarkNotificationRead handles POST /notifications/:id/read. Ids that are
// unknown, already read or owned by someone else are acknowledged the same
// way so callers cannot test for foreign ids.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	if err := s.reads.MarkRead(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	n, err := s.reads.MarkAllRead(c.Request.Context(), user.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.From(c.Request.Context()).Debug("notifications marked read", zap.Int64("count", n))
	c.Status(http.StatusNoContent)
}

// MarkNotificationsSeen handles POST /notifications/seen.
func (s *Server) MarkNotificationsSeen(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	if err := s.reads.MarkSeen(c.Request.Context(), user.ID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CreateNotification handles the internal POST /notifications.
func (s *Server) CreateNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "invalid request body", http.StatusBadRequest))
		return
	}

	role := strings.TrimSpace(req.BroadcastRole)
	if role == "" && strings.TrimSpace(req.UserID) == "" {
		_ = c.Error(apperrors.ErrRecipientRequired())
		return
	}

	if role != "" {
		res, err := s.broadcaster.Broadcast(ctx, role, req.CreateInput)
		if err != nil {
			_ = c.Error(mapCreateError(err))
			return
		}
		if res.Err != nil {
			logger.From(ctx).Warn("broadcast partially failed",
				zap.String("role", role),
				zap.Int("recipients", res.Recipients),
				zap.Int("failed", res.Failed),
				zap.Error(res.Err),
			)
		}
		c.JSON(http.StatusOK, CreateNotificationResponse{
			Success:   true,
			Delivered: &res.Delivered,
			Failed:    &res.Failed,
		})
		return
	}

	created, err := s.creator.Create(ctx, req.CreateInput)
	if err != nil {
		_ = c.Error(mapCreateError(err))
		return
	}

	c.JSON(http.StatusOK, CreateNotificationResponse{
		Success:   true,
		ID:        created.ID,
		CreatedAt: &created.CreatedAt,
	})
}

// mapCreateError converts Writer and Dispatcher errors to AppErrors.
func mapCreateError(err error) error {
	var verr *notification.ValidationError
	if errors.As(err, &verr) {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, verr.Error()).
			WithFieldErrors(fieldErrors(verr))
	}
	var werr *notification.WriteError
	if errors.As(err, &werr) {
		return apperrors.ErrWriteFailed(err)
	}
	return apperrors.Wrap(err, apperrors.CodeBroadcastFailed, "broadcast recipients could not be resolved", http.StatusInternalServerError)
}

func fieldErrors(verr *notification.ValidationError) []apperrors.FieldError {
	out := make([]apperrors.FieldError, 0, len(verr.Fields))
	for field, msg := range verr.Fields {
		out = append(out, apperrors.FieldError{Field: field, Code: apperrors.CodeValidationFailed, Message: msg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// parseCursor accepts epoch milliseconds or RFC 3339. Empty means unset.
func parseCursor(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := notification.FromEpochMillis(ms)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// requireUser returns the authenticated caller or records a 401.
func requireUser(c *gin.Context) (middleware.AuthenticatedUser, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok || user.ID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeUnauthorized, "authentication required"))
		return middleware.AuthenticatedUser{}, false
	}
	return user, true
}
