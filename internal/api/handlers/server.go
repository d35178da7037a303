// Package handlers implements the herald HTTP API.
//
// Routes are registered by RegisterRoutes. End-user handlers read the caller
// from middleware.CurrentUser; internal handlers trust the shared secret
// checked upstream.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/domain"
	"peaceseal.io/herald/internal/notification"
	"peaceseal.io/herald/internal/pkg/worker"
	"peaceseal.io/herald/internal/stream"
)

// Server holds the collaborators every handler needs.
type Server struct {
	store       notification.Store
	reads       *notification.ReadTracker
	creator     notification.Creator
	broadcaster notification.Broadcaster
	prefs       notification.PreferenceStore
	hints       notification.HintStore
	events      *domain.EventDispatcher
	pools       *worker.Pools
	jwtCfg      middleware.JWTConfig
	streamCfg   stream.Config
	checks      []healthCheck
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI: the composition root in internal/app fills this in.
type ServerDeps struct {
	Store       notification.Store
	ReadTracker *notification.ReadTracker
	Writer      notification.Creator
	Dispatcher  notification.Broadcaster
	Preferences notification.PreferenceStore
	Hints       notification.HintStore // Optional: nil makes streams query the store every tick
	Events      *domain.EventDispatcher
	Pools       *worker.Pools // Optional: nil dispatches events inline
	JWTCfg      middleware.JWTConfig
	StreamCfg   stream.Config
	Pool        *pgxpool.Pool // Optional: readiness check
	Redis       *redis.Client // Optional: readiness check
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		store:       deps.Store,
		reads:       deps.ReadTracker,
		creator:     deps.Writer,
		broadcaster: deps.Dispatcher,
		prefs:       deps.Preferences,
		hints:       deps.Hints,
		events:      deps.Events,
		pools:       deps.Pools,
		jwtCfg:      deps.JWTCfg,
		streamCfg:   deps.StreamCfg,
	}
	if s.reads == nil && s.store != nil {
		s.reads = notification.NewReadTracker(s.store, nil)
	}
	if deps.Pool != nil {
		pool := deps.Pool
		s.checks = append(s.checks, healthCheck{name: "database", ping: pool.Ping})
	}
	if deps.Redis != nil {
		rdb := deps.Redis
		s.checks = append(s.checks, healthCheck{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return s
}

// RouteMiddleware groups the middleware chains applied per audience.
type RouteMiddleware struct {
	// User guards end-user JSON routes (JWT, rate limit).
	User []gin.HandlerFunc
	// Stream guards the SSE route, which authenticates inside the session.
	Stream []gin.HandlerFunc
	// Internal guards system-to-system routes (shared secret).
	Internal []gin.HandlerFunc
}

// RegisterRoutes mounts every herald route under api (normally /api/v1).
func (s *Server) RegisterRoutes(api *gin.RouterGroup, mw RouteMiddleware) {
	api.GET("/health/live", s.GetLiveness)
	api.GET("/health/ready", s.GetReadiness)

	api.POST("/notifications", chain(mw.Internal, s.CreateNotification)...)
	api.POST("/events", chain(mw.Internal, s.PublishEvent)...)

	api.GET("/notifications/stream", chain(mw.Stream, s.StreamNotifications)...)

	user := api.Group("/notifications", mw.User...)
	user.GET("", s.ListNotifications)
	user.GET("/unread-count", s.GetUnreadCount)
	user.POST("/:id/read", s.MarkNotificationRead)
	user.POST("/read-all", s.MarkAllNotificationsRead)
	user.POST("/seen", s.MarkNotificationsSeen)
	user.GET("/preferences", s.GetPreferences)
	user.POST("/preferences", s.UpdatePreferences)
}

func chain(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}
