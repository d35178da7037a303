package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	apperrors "peaceseal.io/herald/internal/pkg/errors"
)

// InternalAuth guards system-to-system endpoints with a shared bearer
// secret. An empty secret rejects every request.
func InternalAuth(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(BearerToken(c, false))
		if len(want) == 0 || len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			abortUnauthorized(c, apperrors.CodeUnauthorized, "invalid internal token")
			return
		}
		c.Next()
	}
}
