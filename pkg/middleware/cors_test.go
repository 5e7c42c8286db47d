package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
)

var testOrigins = []string{"http://localhost:5173", "https://bioforge.app"}

func newCORSEcho() *echo.Echo {
	e := echo.New()
	e.Use(middleware.CORSWithConfig(CORSConfig(testOrigins)))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"https://bioforge.app", true},
		{"https://evil.example.com", false},
		{"http://bioforge.app", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			e := newCORSEcho()

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	e := newCORSEcho()

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	methods := rec.Header().Get("Access-Control-Allow-Methods")
	assert.True(t, strings.Contains(methods, http.MethodPost))
	assert.False(t, strings.Contains(methods, http.MethodDelete))
}
