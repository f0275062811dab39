package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/orderpad/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SessionIDKey is the gin context key SessionAuth stores the session id under
const SessionIDKey = "sessionID"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RouteLimit caps requests per client for every path under Prefix
type RouteLimit struct {
	Prefix    string
	PerMinute float64
	Burst     int
}

// RateLimiter keeps one token bucket per client and route prefix. A client
// is the session id when SessionAuth ran earlier in the chain, the remote IP
// otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limits   []RouteLimit
	idleTTL  time.Duration
}

// NewRateLimiter creates a limiter. Paths matching no prefix are unlimited.
func NewRateLimiter(limits ...RouteLimit) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limits:   limits,
		idleTTL:  3 * time.Minute,
	}
}

func (rl *RateLimiter) match(path string) (RouteLimit, bool) {
	for _, rule := range rl.limits {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return RouteLimit{}, false
}

func (rl *RateLimiter) getLimiter(rule RouteLimit, clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientID + ":" + rule.Prefix
	v, exists := rl.visitors[key]

	if !exists {
		burst := rule.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{
			limiter:  rate.NewLimiter(rate.Limit(rule.PerMinute/60.0), burst),
			lastSeen: time.Now(),
		}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every interval until ctx is cancelled
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over budget with 429. Mount it after
// SessionAuth to budget per session rather than per IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, ok := rl.match(c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}

		clientID := c.GetString(SessionIDKey)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !rl.getLimiter(rule, clientID).Allow() {
			log.Debug().Str("client", clientID).Str("prefix", rule.Prefix).Msg("rate limit exceeded")
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator resolves a bearer token to the session it was issued for
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// SessionAuth requires a valid session token and stores its session id in
// the gin context
func SessionAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		sessionID, err := validator.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(SessionIDKey, sessionID)
		c.Next()
	}
}

// RequestLogger writes one zerolog line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("session_id", c.GetString(SessionIDKey)).
			Msg("request handled")
	}
}
