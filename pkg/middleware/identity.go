package middleware

import (
	"context"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// Anonymous is the shared identity used when no client address is known
const Anonymous = "anonymous"

// ClientIdentity derives the rate-limit identity of a request: the first
// X-Forwarded-For entry, then X-Real-IP, then the connection's remote address.
// Unidentifiable traffic shares the Anonymous bucket.
func ClientIdentity(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		return realIP
	}
	if c.Request != nil && c.Request.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if host != "" {
			return host
		}
	}
	return Anonymous
}

// IdentityMiddleware resolves the caller identity once per request
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ClientIdentity(c)
		c.Set(string(IdentityKey), identity)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), IdentityKey, identity))
		c.Next()
	}
}

// Identity returns the identity resolved by IdentityMiddleware, deriving it if absent
func Identity(c *gin.Context) string {
	if v := c.GetString(string(IdentityKey)); v != "" {
		return v
	}
	return ClientIdentity(c)
}
