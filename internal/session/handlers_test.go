package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/orderpad/internal/database"
	"github.com/ksred/orderpad/internal/pricefeed"
	"github.com/ksred/orderpad/internal/receipt"
	"github.com/ksred/orderpad/pkg/middleware"
	"github.com/ksred/orderpad/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	feed   *pricefeed.Feed
	token  string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *response.Error `json:"error"`
}

type ticketView struct {
	Screen     string   `json:"screen"`
	Completion int      `json:"completion"`
	Status     string   `json:"status"`
	BarColor   string   `json:"bar_color"`
	Ready      bool     `json:"ready"`
	Missing    []string `json:"missing_fields"`
	Expanded   string   `json:"expanded"`
	Draft      struct {
		Shares     string `json:"shares"`
		Kind       string `json:"order_kind"`
		LimitPrice string `json:"limit_price"`
		StopPrice  string `json:"stop_price"`
	} `json:"draft"`
	Quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	} `json:"quote"`
	OrderTypes []struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	} `json:"order_types"`
	Review *struct {
		EstimatedTotal string `json:"estimated_total"`
		Disclaimer     string `json:"disclaimer"`
	} `json:"review"`
	Receipt *struct {
		ReferenceID    string `json:"reference_id"`
		EstimatedTotal string `json:"estimated_total"`
	} `json:"receipt"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newLimitedTestServer(t, nil)
}

func newLimitedTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()

	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	feed := pricefeed.NewFeed("AAPL", 175.50, pricefeed.NewSequence(176.00, 174.25), time.Hour)
	receipts := receipt.NewService(db, receipt.NewGenerator(nil, rand.New(rand.NewSource(11))))
	sessions := NewService("test-secret", time.Hour)

	handlers := NewGinHandlers(sessions, feed, receipts)
	if limiter != nil {
		handlers.WithRateLimit(limiter.Middleware())
	}

	router := gin.New()
	handlers.Register(router.Group("/api/v1"))

	return &testServer{router: router, feed: feed}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) view(t *testing.T, method, path string, body interface{}, wantCode int) ticketView {
	t.Helper()
	code, env := s.do(t, method, path, body)
	require.Equal(t, wantCode, code, "%s %s: %+v", method, path, env.Error)

	var v ticketView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *testServer) startSession(t *testing.T) ticketView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, code)

	var created struct {
		SessionID string     `json:"session_id"`
		Token     string     `json:"session_token"`
		Ticket    ticketView `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.Token)
	require.NotEmpty(t, created.SessionID)
	s.token = created.Token
	return created.Ticket
}

func TestHandlers_FullLimitOrderFlow(t *testing.T) {
	srv := newTestServer(t)

	v := srv.startSession(t)
	assert.Equal(t, "entry", v.Screen)
	assert.Equal(t, 0, v.Completion)
	assert.Equal(t, "INCOMPLETE", v.Status)
	assert.Equal(t, "red", v.BarColor)
	assert.Equal(t, []string{"shares", "order_kind"}, v.Missing)
	assert.Equal(t, "AAPL", v.Quote.Symbol)
	assert.Equal(t, 175.50, v.Quote.Price)

	v = srv.view(t, http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"shares": "10"}, http.StatusOK)
	assert.Equal(t, 33, v.Completion)
	assert.Equal(t, "INCOMPLETE", v.Status)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/order-types", nil, http.StatusOK)
	assert.Equal(t, "order_types", v.Screen)
	require.Len(t, v.OrderTypes, 4)
	assert.Equal(t, "Market Order", v.OrderTypes[0].Name)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/order-types/limit/expand", nil, http.StatusOK)
	assert.Equal(t, "Limit", v.Expanded)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/order-types/limit/select", nil, http.StatusOK)
	assert.Equal(t, "entry", v.Screen)
	assert.Equal(t, "Limit", v.Draft.Kind)
	assert.Equal(t, 67, v.Completion)
	assert.Equal(t, "ALMOST READY", v.Status)
	assert.Equal(t, "yellow", v.BarColor)
	assert.Equal(t, []string{"limit_price"}, v.Missing)

	code, env := srv.do(t, http.MethodPost, "/api/v1/ticket/review", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrCodeValidationFailed, env.Error.Code)

	v = srv.view(t, http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"limit_price": "170"}, http.StatusOK)
	assert.Equal(t, 100, v.Completion)
	assert.Equal(t, "READY TO SUBMIT", v.Status)
	assert.True(t, v.Ready)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/review", nil, http.StatusOK)
	assert.Equal(t, "review", v.Screen)
	require.NotNil(t, v.Review)
	assert.Equal(t, "1700", v.Review.EstimatedTotal)
	assert.Contains(t, v.Review.Disclaimer, "$170")

	code, env = srv.do(t, http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"shares": "1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrCodeInvalidTransition, env.Error.Code)

	srv.feed.Tick()
	v = srv.view(t, http.MethodPost, "/api/v1/ticket/confirm", nil, http.StatusOK)
	assert.Equal(t, "confirmation", v.Screen)
	require.NotNil(t, v.Receipt)
	assert.Regexp(t, `^ORD-\d{4}-\d{6}$`, v.Receipt.ReferenceID)
	assert.Equal(t, "1700", v.Receipt.EstimatedTotal)
	ref := v.Receipt.ReferenceID

	code, env = srv.do(t, http.MethodGet, "/api/v1/receipts/"+ref, nil)
	require.Equal(t, http.StatusOK, code)
	var rec struct {
		ReferenceID string `json:"reference_id"`
		Kind        string `json:"order_kind"`
		MarketPrice string `json:"market_price"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, ref, rec.ReferenceID)
	assert.Equal(t, "Limit", rec.Kind)
	assert.Equal(t, "176", rec.MarketPrice)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/reset", nil, http.StatusOK)
	assert.Equal(t, "entry", v.Screen)
	assert.Equal(t, 0, v.Completion)
	assert.Empty(t, v.Draft.Shares)
	assert.Empty(t, v.Draft.Kind)

	code, env = srv.do(t, http.MethodGet, "/api/v1/receipts", nil)
	require.Equal(t, http.StatusOK, code)
	var list []struct {
		ReferenceID string `json:"reference_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, ref, list[0].ReferenceID)
}

func TestHandlers_MarketOrderUsesLivePrice(t *testing.T) {
	srv := newTestServer(t)
	srv.startSession(t)

	srv.view(t, http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"shares": "10", "limit_price": "1"}, http.StatusOK)
	srv.view(t, http.MethodPost, "/api/v1/ticket/order-types", nil, http.StatusOK)
	v := srv.view(t, http.MethodPost, "/api/v1/ticket/order-types/market/select", nil, http.StatusOK)
	assert.Equal(t, 100, v.Completion)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/review", nil, http.StatusOK)
	require.NotNil(t, v.Review)
	assert.Equal(t, "1755", v.Review.EstimatedTotal)

	srv.feed.Tick()
	v = srv.view(t, http.MethodGet, "/api/v1/ticket", nil, http.StatusOK)
	require.NotNil(t, v.Review)
	assert.Equal(t, "1760", v.Review.EstimatedTotal)

	v = srv.view(t, http.MethodPost, "/api/v1/ticket/back", nil, http.StatusOK)
	assert.Equal(t, "entry", v.Screen)
	assert.Nil(t, v.Review)
}

func TestHandlers_Errors(t *testing.T) {
	srv := newTestServer(t)

	code, env := srv.do(t, http.MethodGet, "/api/v1/ticket", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrCodeUnauthorized, env.Error.Code)

	srv.token = "garbage"
	code, _ = srv.do(t, http.MethodGet, "/api/v1/ticket", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	srv.startSession(t)

	code, env = srv.do(t, http.MethodPost, "/api/v1/ticket/order-types/trailing/select", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrCodeBadRequest, env.Error.Code)

	code, env = srv.do(t, http.MethodPost, "/api/v1/ticket/order-types/market/select", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrCodeInvalidTransition, env.Error.Code)

	code, _ = srv.do(t, http.MethodPost, "/api/v1/ticket/confirm", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = srv.do(t, http.MethodPost, "/api/v1/ticket/reset", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = srv.do(t, http.MethodGet, "/api/v1/receipts/ORD-2024-123456", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrCodeNotFound, env.Error.Code)
}

func TestHandlers_ReceiptsAreScopedToSession(t *testing.T) {
	srv := newTestServer(t)
	srv.startSession(t)

	srv.view(t, http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"shares": "2"}, http.StatusOK)
	srv.view(t, http.MethodPost, "/api/v1/ticket/order-types", nil, http.StatusOK)
	srv.view(t, http.MethodPost, "/api/v1/ticket/order-types/market/select", nil, http.StatusOK)
	srv.view(t, http.MethodPost, "/api/v1/ticket/review", nil, http.StatusOK)
	v := srv.view(t, http.MethodPost, "/api/v1/ticket/confirm", nil, http.StatusOK)
	require.NotNil(t, v.Receipt)

	srv.startSession(t)
	code, _ := srv.do(t, http.MethodGet, "/api/v1/receipts/"+v.Receipt.ReferenceID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandlers_WriteErrorCodes(t *testing.T) {
	h := NewGinHandlers(NewService("test-secret", time.Hour), pricefeed.NewFeed("AAPL", 100, pricefeed.NewSequence(), time.Hour), nil)

	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "reference exhausted", err: fmt.Errorf("confirm: %w", receipt.ErrReferenceExhausted), wantCode: http.StatusConflict, wantErr: response.ErrCodeDuplicateResource},
		{name: "receipt not found", err: receipt.ErrReceiptNotFound, wantCode: http.StatusNotFound, wantErr: response.ErrCodeNotFound},
		{name: "session not found", err: ErrSessionNotFound, wantCode: http.StatusNotFound, wantErr: response.ErrCodeNotFound},
		{name: "unexpected", err: fmt.Errorf("disk on fire"), wantCode: http.StatusInternalServerError, wantErr: response.ErrCodeInternalError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/ticket/confirm", nil)

			h.writeError(c, nil, tc.err)

			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tc.wantCode, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantErr, env.Error.Code)
		})
	}
}

func TestHandlers_RateLimitPerSession(t *testing.T) {
	srv := newLimitedTestServer(t, middleware.NewRateLimiter(
		middleware.RouteLimit{Prefix: "/api/v1/ticket", PerMinute: 1, Burst: 2},
	))

	srv.startSession(t)
	first := srv.token
	srv.startSession(t)
	second := srv.token

	// both sessions come from the same test client IP
	srv.token = first
	srv.view(t, http.MethodGet, "/api/v1/ticket", nil, http.StatusOK)
	srv.view(t, http.MethodPost, "/api/v1/ticket/order-types", nil, http.StatusOK)

	srv.token = second
	srv.view(t, http.MethodGet, "/api/v1/ticket", nil, http.StatusOK)

	// the budget covers the whole group, not each route
	srv.token = first
	code, env := srv.do(t, http.MethodPost, "/api/v1/ticket/back", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, response.ErrCodeRateLimited, env.Error.Code)

	srv.token = second
	srv.view(t, http.MethodPost, "/api/v1/ticket/order-types", nil, http.StatusOK)
}

func TestHandlers_Quote(t *testing.T) {
	srv := newTestServer(t)

	code, env := srv.do(t, http.MethodGet, "/api/v1/quote", nil)
	require.Equal(t, http.StatusOK, code)

	var q pricefeed.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 175.50, q.Price)
	assert.Equal(t, 0, q.Ticks)
}
