package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(apiKey string, req *http.Request) int {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", APIKeyMiddleware(apiKey), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		query  string
		want   int
	}{
		{name: "disabled", key: "", want: http.StatusNoContent},
		{name: "missing", key: "secret", want: http.StatusUnauthorized},
		{name: "wrong", key: "secret", header: "nope", want: http.StatusForbidden},
		{name: "header", key: "secret", header: "secret", want: http.StatusNoContent},
		{name: "query", key: "secret", query: "secret", want: http.StatusNoContent},
		{name: "header wins over query", key: "secret", header: "nope", query: "secret", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/x"
			if tt.query != "" {
				target += "?" + QueryParam + "=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(HeaderName, tt.header)
			}
			assert.Equal(t, tt.want, serve(tt.key, req))
		})
	}
}
