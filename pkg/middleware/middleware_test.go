package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator map[string]string

func (f fakeValidator) ValidateToken(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RouteLimit{Prefix: "/api/v1/sessions", PerMinute: 1, Burst: 2})

	router := gin.New()
	router.Use(rl.Middleware())
	router.POST("/api/v1/sessions", func(c *gin.Context) { c.Status(http.StatusCreated) })
	router.GET("/api/v1/quote", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quote", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_SharedAcrossGroupRoutes(t *testing.T) {
	rl := NewRateLimiter(RouteLimit{Prefix: "/api/v1/ticket", PerMinute: 1, Burst: 2})

	router := gin.New()
	group := router.Group("/api/v1/ticket", rl.Middleware())
	group.GET("", func(c *gin.Context) { c.Status(http.StatusOK) })
	group.POST("/review", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/ticket", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ticket/review", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/ticket/review", nil),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_KeysBySessionAfterAuth(t *testing.T) {
	rl := NewRateLimiter(RouteLimit{Prefix: "/ticket", PerMinute: 1, Burst: 1})

	router := gin.New()
	router.GET("/ticket",
		SessionAuth(fakeValidator{"a": "session-a", "b": "session-b"}),
		rl.Middleware(),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/ticket", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("b"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter()
	rl.getLimiter(RouteLimit{Prefix: "/a", PerMinute: 60}, "client-1")
	rl.getLimiter(RouteLimit{Prefix: "/b", PerMinute: 60}, "client-1")

	assert.Equal(t, 0, rl.sweep(time.Now()))
	assert.Equal(t, 2, rl.sweep(time.Now().Add(10*time.Minute)))
	assert.Empty(t, rl.visitors)
}

func TestSessionAuth(t *testing.T) {
	router := gin.New()
	router.GET("/ticket", SessionAuth(fakeValidator{"good": "session-1"}), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SessionIDKey))
	})

	testCases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "missing header", header: "", code: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", code: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer", code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good", code: http.StatusOK, body: "session-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ticket", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
