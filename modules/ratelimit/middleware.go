package ratelimit

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// KeyFunc extracts the rate limit key of a request. An empty key falls back
// to the client IP.
type KeyFunc func(c *fiber.Ctx) string

// Middleware returns a Fiber handler that admits requests through limiter.
// limit is only reported in the X-RateLimit-Limit header.
func Middleware(limiter Limiter, limit int, key KeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		k := ""
		if key != nil {
			k = key(c)
		}
		if k == "" {
			k = "ip:" + c.IP()
		}

		result, err := limiter.Allow(c.UserContext(), k)
		if err != nil {
			// Fail open.
			c.Set("X-RateLimit-Error", err.Error())
			return c.Next()
		}

		if result.Remaining >= 0 {
			c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return fiber.NewError(fiber.StatusTooManyRequests,
				fmt.Sprintf("Rate limit exceeded. Please retry after %d seconds.", retryAfter))
		}

		return c.Next()
	}
}
