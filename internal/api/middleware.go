package api

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/internal/rate"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "X-API-Key"

const orgLocal = "org_id"

// OrgResolver maps an API key to the calling organization.
type OrgResolver interface {
	OrgForKey(ctx context.Context, apiKey string) (string, error)
}

// RequireOrg authenticates the request and stores the caller's org id in the context.
func RequireOrg(resolver OrgResolver, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		org, err := resolver.OrgForKey(c.UserContext(), c.Get(HeaderAPIKey))
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnauthorized {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing api key", "code": string(apperr.KindUnauthorized)})
			}
			logger.Error("api.auth.failed", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "authentication unavailable", "code": codeInternal})
		}
		c.Locals(orgLocal, org)
		return c.Next()
	}
}

// RateLimit throttles each organization (or client IP before auth) with its own token bucket.
func RateLimit(mgr *rate.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := callerOrg(c)
		if key == "" {
			key = "ip:" + c.IP()
		}
		lim := mgr.GetLimiter(key)
		if !lim.Allow() {
			secs := int(math.Ceil(lim.RetryAfter().Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			metrics.IncError("api", "rate_limited")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded", "code": "rate_limited"})
		}
		return c.Next()
	}
}

// RequestMetrics counts every request by route template and final status.
func RequestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		metrics.IncHTTPRequest(c.Route().Path, c.Method(), status)
		return err
	}
}

func callerOrg(c *fiber.Ctx) string {
	org, _ := c.Locals(orgLocal).(string)
	return org
}
