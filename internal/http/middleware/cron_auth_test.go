package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequireCronSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{name: "open when unset", secret: "", header: "", want: http.StatusOK},
		{name: "valid bearer", secret: "s3cret", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong bearer", secret: "s3cret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "missing header", secret: "s3cret", header: "", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/cron", RequireCronSecret(tc.secret), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/cron", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
