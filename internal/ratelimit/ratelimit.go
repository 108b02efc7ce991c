// Package ratelimit throttles clients with a token bucket per IP address.
package ratelimit

import (
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/didip/tollbooth_gin"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

func newLimiter(perSecond float64) *limiter.Limiter {
	message := map[string]any{
		"detail": "Too many requests, slow down.",
	}
	jsonMessage, _ := json.Marshal(message)

	tlbthLimiter := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Minute,
	})
	tlbthLimiter.SetIPLookups([]string{"RemoteAddr"})
	tlbthLimiter.SetMessageContentType("application/json")
	tlbthLimiter.SetMessage(string(jsonMessage))
	return tlbthLimiter
}

// TokenBucketPerIP allows perSecond requests per second from each peer address.
// Forwarding headers are ignored.
func TokenBucketPerIP(perSecond float64) gin.HandlerFunc {
	return tollbooth_gin.LimitHandler(newLimiter(perSecond))
}

// TokenBucketPerClientIP keys buckets on gin's ClientIP, which honours
// X-Forwarded-For and X-Real-IP only when the peer is one of the engine's
// trusted proxies (see gin.Engine.SetTrustedProxies).
func TokenBucketPerClientIP(perSecond float64) gin.HandlerFunc {
	lmt := newLimiter(perSecond)
	return func(c *gin.Context) {
		if httpErr := tollbooth.LimitByKeys(lmt, []string{c.ClientIP()}); httpErr != nil {
			c.Data(httpErr.StatusCode, lmt.GetMessageContentType(), []byte(httpErr.Message))
			c.Abort()
			return
		}
		c.Next()
	}
}
