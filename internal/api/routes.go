package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Routes carries everything RegisterRoutes wires into the app.
type Routes struct {
	Trade *TradeHandler
	// Auth must set the caller's org id; RateLimit runs after it.
	Auth      fiber.Handler
	RateLimit fiber.Handler
	// Checks run on /health; a failing check degrades the service.
	Checks map[string]HealthCheck
	// DemoFunding exposes POST /wallets/deposit.
	DemoFunding bool
}

func RegisterRoutes(app *fiber.App, r Routes) {
	app.Use(RequestMetrics())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := make(map[string]string, len(r.Checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		for name, check := range r.Checks {
			if err := check(healthCtx); err != nil {
				checks[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1")
	if r.Auth != nil {
		v1.Use(r.Auth)
	}
	if r.RateLimit != nil {
		v1.Use(r.RateLimit)
	}

	h := r.Trade
	v1.Post("/rfqs", h.CreateRFQ)
	v1.Get("/rfqs", h.ListRFQs)
	v1.Get("/rfqs/:id", h.GetRFQ)
	v1.Patch("/rfqs/:id", h.UpdateRFQ)
	v1.Post("/rfqs/:id/send", h.SendRFQ)
	v1.Post("/rfqs/:id/close", h.CloseRFQ)
	v1.Get("/rfqs/:id/offers", h.ListOffers)
	v1.Post("/rfqs/:id/offers", h.CreateOffer)

	v1.Get("/offers/:id", h.GetOffer)
	v1.Post("/offers/:id/reject", h.RejectOffer)
	v1.Post("/offers/:id/accept", h.AcceptOffer)

	v1.Get("/orders", h.ListOrders)
	v1.Get("/orders/:id", h.GetOrder)

	v1.Get("/deals", h.ListDeals)
	v1.Get("/deals/:id", h.GetDeal)
	v1.Post("/deals/:id/close", h.CloseDeal)
	v1.Get("/deals/:id/logistics", h.GetLogistics)
	v1.Put("/deals/:id/logistics", h.UpdateLogistics)
	v1.Post("/deals/:id/logistics/simulate", h.SimulateDelivery)
	v1.Get("/deals/:id/analytics", h.DealAnalytics)

	v1.Get("/wallets", h.ListWallets)
	if r.DemoFunding {
		v1.Post("/wallets/deposit", h.Deposit)
	}

	v1.Get("/payments", h.ListPayments)
	v1.Post("/payments", h.CreatePayment)
	v1.Get("/payments/:id", h.GetPayment)
	v1.Post("/payments/:id/release", h.ReleasePayment)

	v1.Get("/fx/rates", h.FXRates)
	v1.Post("/fx/quote", h.FXQuote)
}
