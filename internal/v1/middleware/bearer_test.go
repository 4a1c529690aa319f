package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*auth.CustomClaims, error) {
	if token != "good-token" {
		return nil, errors.New("bad signature")
	}
	claims := &auth.CustomClaims{}
	claims.Subject = "alice"
	return claims, nil
}

func TestBearerGuard(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantCode    int
		wantSubject string
	}{
		{"valid token", "Bearer good-token", http.StatusOK, "alice"},
		{"no header passes through", "", http.StatusOK, ""},
		{"invalid token", "Bearer forged", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.Use(BearerGuard(stubValidator{}))

			var subject string
			r.GET("/call", func(c *gin.Context) {
				if v, ok := c.Get(auth.ClaimsKey); ok {
					subject = v.(*auth.CustomClaims).Subject
				}
			})

			req := httptest.NewRequest(http.MethodGet, "/call", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantSubject, subject)
		})
	}
}
