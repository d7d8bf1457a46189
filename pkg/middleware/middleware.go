package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ksred/galactic-exchange/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	tradingLimit = rate.Limit(600.0 / 60.0)  // 600 requests per minute
	queryLimit   = rate.Limit(1200.0 / 60.0) // 1200 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientKey string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientKey + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case path == "/register" || path == "/login" || path == "/user/password":
			limit = authLimit
		case strings.HasPrefix(path, "/v2/orders") || path == "/v2/bulk-operations" || path == "/orders" || path == "/trades":
			limit = tradingLimit
		case strings.HasPrefix(path, "/v2/") || path == "/balance":
			limit = queryLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 10),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles clients per endpoint group, keyed by the username
// an earlier middleware stored in the context and by client IP otherwise.
// The server installs it globally, ahead of the route groups' bearer
// auth, so there every request is keyed by client IP.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetString("username")
		if clientKey == "" {
			clientKey = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientKey)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenResolver maps bearer tokens to usernames.
type TokenResolver interface {
	ResolveToken(token string) (username string, ok bool)
}

// BearerAuth resolves the Authorization bearer token and stores the
// username in the request context.
func BearerAuth(tokens TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		username, ok := tokens.ResolveToken(token)
		if !ok {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("username", username)
		c.Next()
	}
}

// AdminAuth gates administrative endpoints behind the configured admin
// token. An empty configured token disables the surface entirely.
func AdminAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok || adminToken == "" || token != adminToken {
			response.Unauthorized(c, "Invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
