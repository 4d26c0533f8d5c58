package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
)

const codeInternal = "internal"

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindValidation,
		apperr.KindInsufficientFunds,
		apperr.KindInsufficientBlocked,
		apperr.KindInvalidState,
		apperr.KindInvalidDealStateForPayment,
		apperr.KindInvalidDealStateForRelease:
		return fiber.StatusBadRequest
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindForbidden:
		return fiber.StatusForbidden
	case apperr.KindUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as {"error": msg, "code": kind}.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": codeInternal})
		}
		logger.Error("api.request.failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error", "code": codeInternal})
	}
	return c.Status(statusFor(kind)).JSON(fiber.Map{"error": err.Error(), "code": string(kind)})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": string(apperr.KindValidation)})
}
