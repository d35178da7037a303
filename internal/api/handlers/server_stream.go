package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/api/middleware"
	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/pkg/logger"
	"peaceseal.io/herald/internal/stream"
)

// lastEventIDHeader is sent by EventSource on reconnect.
const lastEventIDHeader = "Last-Event-ID"

// StreamNotifications handles GET /notifications/stream.
//
// The token comes from the Authorization header or ?token= because browser
// EventSource cannot set headers. A rejected token is a plain 401 JSON
// response; no event-stream bytes are written before authentication.
func (s *Server) StreamNotifications(c *gin.Context) {
	var opts []stream.Option
	if s.hints != nil {
		opts = append(opts, stream.WithHints(s.hints))
	}
	session := stream.NewSession(s.streamCfg, s.store, s.jwtCfg, opts...)

	if err := session.Authenticate(middleware.BearerToken(c, true)); err != nil {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeUnauthorized, "missing or invalid stream token"))
		return
	}
	middleware.SetUser(c, middleware.AuthenticatedUser{ID: session.UserID()})

	ctx := c.Request.Context()
	log := logger.From(ctx)

	var resume *time.Time
	if raw := c.GetHeader(lastEventIDHeader); raw != "" {
		t, err := stream.ParseEventID(raw)
		if err != nil {
			log.Debug("ignoring malformed Last-Event-ID", zap.String("last_event_id", raw))
		} else {
			resume = &t
		}
	}

	// Streams are long lived; lift server.write_timeout for this response.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("write deadline not cleared", zap.Error(err))
	}

	stream.WriteHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	c.Writer.Flush()

	emitter := stream.NewSSEEmitter(c.Writer)
	reason := session.Run(ctx, emitter, resume)

	snap := session.Snapshot()
	log.Info("notification stream closed",
		zap.String("reason", string(reason)),
		zap.Int("calls", snap.Calls),
		zap.Int("idle_streak", snap.IdleStreak),
		zap.Bool("resumed", resume != nil),
	)
}
