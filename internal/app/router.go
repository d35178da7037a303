package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/config"
)

// defaultAllowedOrigins applies when server.allowed_origins is empty.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig, rdb *redis.Client) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(),
		cors.New(buildCORSConfig(cfg)),
		middleware.ErrorHandler(),
	)

	limiter := middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	server.RegisterRoutes(router.Group("/api/v1"), handlers.RouteMiddleware{
		User:     []gin.HandlerFunc{middleware.JWTAuth(jwtCfg), limiter},
		Stream:   []gin.HandlerFunc{limiter},
		Internal: []gin.HandlerFunc{middleware.InternalAuth(cfg.Security.InternalToken)},
	})
	return router
}

// buildCORSConfig derives the CORS policy from server settings. A "*" entry
// is dropped unless UnsafeAllowAllOrigins is set, and allow-all never sends
// credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Last-Event-ID", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	out.AllowOrigins = origins
	out.AllowCredentials = cfg.Server.AllowCredentials
	return out
}
