package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestInternalAuth(t *testing.T) {
	const secret = "internal-secret-0123456789abcdef0123456789abcdef"

	tests := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"matching secret", secret, "Bearer " + secret, http.StatusNoContent},
		{"wrong secret", secret, "Bearer nope", http.StatusUnauthorized},
		{"prefix of secret", secret, "Bearer " + secret[:10], http.StatusUnauthorized},
		{"missing header", secret, "", http.StatusUnauthorized},
		{"unconfigured secret rejects everything", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/internal", InternalAuth(tt.configured), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
