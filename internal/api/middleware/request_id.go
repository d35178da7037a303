package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
)

type contextKey string

const (
	// RequestIDHeader is the HTTP header for request tracing.
	RequestIDHeader = "X-Request-ID"

	ctxKeyRequestID contextKey = "request_id"
	ctxKeyUser      contextKey = "user"
)

// AuthenticatedUser is the verified caller, passed explicitly to every
// end-user operation.
type AuthenticatedUser struct {
	ID   string
	Role string
}

// RequestID injects a unique request ID into the context, the response
// header and the request-scoped logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(string(ctxKeyRequestID), rid)
		c.Writer.Header().Set(RequestIDHeader, rid)

		ctx := context.WithValue(c.Request.Context(), ctxKeyRequestID, rid)
		ctx = logger.Into(ctx, zap.String("request_id", rid))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u AuthenticatedUser) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// UserFrom extracts the authenticated user from ctx.
func UserFrom(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(ctxKeyUser).(AuthenticatedUser)
	return u, ok && u.ID != ""
}

// SetUser records u on both the gin context and the request context, and
// tags the request logger with the user id.
func SetUser(c *gin.Context, u AuthenticatedUser) {
	c.Set(string(ctxKeyUser), u)
	ctx := WithUser(c.Request.Context(), u)
	ctx = logger.Into(ctx, zap.String("user_id", u.ID))
	c.Request = c.Request.WithContext(ctx)
}

// CurrentUser returns the user set by JWTAuth.
func CurrentUser(c *gin.Context) (AuthenticatedUser, bool) {
	return UserFrom(c.Request.Context())
}
