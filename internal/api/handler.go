package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/deal"
	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/fx"
	"github.com/Checker-Finance/trade-escrow/internal/orchestrator"
	"github.com/Checker-Finance/trade-escrow/internal/quote"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Services bundles the domain components the API exposes.
type Services struct {
	Quotes       *quote.Engine
	Orchestrator *orchestrator.Orchestrator
	Deals        *deal.Tracker
	Ledger       *escrow.Ledger
	FX           *fx.Service
}

// TradeHandler serves the /api/v1 trade endpoints. Every handler runs behind
// RequireOrg, so the caller's org id is always present.
type TradeHandler struct {
	logger *zap.Logger
	svc    Services
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(logger *zap.Logger, svc Services) *TradeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeHandler{logger: logger, svc: svc}
}

type validator interface{ Validate() error }

// bind parses and validates the JSON body into req.
func bind[T validator](c *fiber.Ctx, req *T) error {
	if err := c.BodyParser(req); err != nil {
		return err
	}
	return (*req).Validate()
}

func (h *TradeHandler) fail(c *fiber.Ctx, err error) error {
	return writeError(c, h.logger, err)
}

// --- RFQs ---

func (h *TradeHandler) CreateRFQ(c *fiber.Ctx) error {
	var req CreateRFQRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	rfq, err := h.svc.Quotes.CreateRFQ(c.UserContext(), callerOrg(c), quote.CreateRFQInput{
		SupplierOrgID: req.SupplierOrgID,
		Items:         req.Items,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rfq)
}

func (h *TradeHandler) ListRFQs(c *fiber.Ctx) error {
	rfqs, err := h.svc.Quotes.ListRFQs(c.UserContext(), callerOrg(c), model.Role(c.Query("role")), model.RFQStatus(c.Query("status")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rfqs)
}

func (h *TradeHandler) GetRFQ(c *fiber.Ctx) error {
	rfq, err := h.svc.Quotes.GetRFQ(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rfq)
}

func (h *TradeHandler) UpdateRFQ(c *fiber.Ctx) error {
	var req UpdateRFQRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	rfq, err := h.svc.Quotes.UpdateRFQ(c.UserContext(), callerOrg(c), c.Params("id"), req.Items)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rfq)
}

func (h *TradeHandler) SendRFQ(c *fiber.Ctx) error {
	rfq, err := h.svc.Quotes.SendRFQ(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rfq)
}

func (h *TradeHandler) CloseRFQ(c *fiber.Ctx) error {
	rfq, err := h.svc.Quotes.CloseRFQ(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rfq)
}

// --- Offers ---

func (h *TradeHandler) CreateOffer(c *fiber.Ctx) error {
	var req CreateOfferRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	offer, err := h.svc.Quotes.CreateOffer(c.UserContext(), c.Params("id"), callerOrg(c), quote.CreateOfferInput{
		Currency:     req.Currency,
		Items:        req.Items,
		Incoterms:    req.Incoterms,
		PaymentTerms: req.PaymentTerms,
		ValidUntil:   req.ValidUntil,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(offer)
}

func (h *TradeHandler) ListOffers(c *fiber.Ctx) error {
	offers, err := h.svc.Quotes.ListOffers(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(offers)
}

func (h *TradeHandler) GetOffer(c *fiber.Ctx) error {
	offer, err := h.svc.Quotes.GetOffer(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(offer)
}

func (h *TradeHandler) RejectOffer(c *fiber.Ctx) error {
	offer, err := h.svc.Quotes.RejectOffer(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(offer)
}

func (h *TradeHandler) AcceptOffer(c *fiber.Ctx) error {
	res, err := h.svc.Orchestrator.AcceptOffer(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// --- Orders & deals ---

func (h *TradeHandler) ListOrders(c *fiber.Ctx) error {
	orders, err := h.svc.Deals.ListOrders(c.UserContext(), callerOrg(c), model.Role(c.Query("role")), model.OrderStatus(c.Query("status")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(orders)
}

func (h *TradeHandler) GetOrder(c *fiber.Ctx) error {
	o, err := h.svc.Deals.GetOrder(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(o)
}

func (h *TradeHandler) ListDeals(c *fiber.Ctx) error {
	deals, err := h.svc.Deals.List(c.UserContext(), callerOrg(c), model.Role(c.Query("role")), model.DealStatus(c.Query("status")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(deals)
}

// GetDeal returns the aggregated deal view, converted to display_currency when given.
func (h *TradeHandler) GetDeal(c *fiber.Ctx) error {
	var display model.Currency
	if raw := c.Query("display_currency"); raw != "" {
		display, _ = model.ParseCurrency(raw)
	}
	view, err := h.svc.Orchestrator.DealView(c.UserContext(), callerOrg(c), c.Params("id"), display)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(view)
}

// DealAnalytics returns the deal's unit economics.
func (h *TradeHandler) DealAnalytics(c *fiber.Ctx) error {
	ue, err := h.svc.Deals.UnitEconomics(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ue)
}

func (h *TradeHandler) CloseDeal(c *fiber.Ctx) error {
	d, err := h.svc.Deals.Close(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

func (h *TradeHandler) GetLogistics(c *fiber.Ctx) error {
	l, err := h.svc.Deals.Logistics(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(l)
}

func (h *TradeHandler) UpdateLogistics(c *fiber.Ctx) error {
	var req UpdateLogisticsRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	d, err := h.svc.Deals.UpdateLogistics(c.UserContext(), callerOrg(c), c.Params("id"), model.LogisticsState{
		Current:     req.Current,
		Delivered:   req.Delivered,
		DeliveredAt: req.DeliveredAt,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d.Logistics)
}

func (h *TradeHandler) SimulateDelivery(c *fiber.Ctx) error {
	d, err := h.svc.Deals.SimulateDelivery(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d.Logistics)
}

// --- Wallets & payments ---

func (h *TradeHandler) ListWallets(c *fiber.Ctx) error {
	wallets, err := h.svc.Ledger.ListWallets(c.UserContext(), callerOrg(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(wallets)
}

func (h *TradeHandler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	w, err := h.svc.Orchestrator.Deposit(c.UserContext(), callerOrg(c), req.Currency, req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(w)
}

func (h *TradeHandler) ListPayments(c *fiber.Ctx) error {
	payments, err := h.svc.Ledger.ListPayments(c.UserContext(), escrow.PaymentFilter{
		OrgID:  callerOrg(c),
		Role:   model.Role(c.Query("role")),
		Status: model.PaymentStatus(c.Query("status")),
		DealID: c.Query("deal_id"),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(payments)
}

func (h *TradeHandler) CreatePayment(c *fiber.Ctx) error {
	var req CreatePaymentRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	p, err := h.svc.Orchestrator.CreatePayment(c.UserContext(), callerOrg(c), orchestrator.CreatePaymentInput{
		DealID:    req.DealID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		FXQuoteID: req.FXQuoteID,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *TradeHandler) GetPayment(c *fiber.Ctx) error {
	p, err := h.svc.Ledger.GetPayment(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(p)
}

func (h *TradeHandler) ReleasePayment(c *fiber.Ctx) error {
	p, err := h.svc.Orchestrator.ReleasePayment(c.UserContext(), callerOrg(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(p)
}

// --- FX ---

func (h *TradeHandler) FXRates(c *fiber.Ctx) error {
	base, _ := model.ParseCurrency(c.Query("base", string(model.CurrencyRUB)))
	rates, err := h.svc.FX.Rates(c.UserContext(), base)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rates)
}

func (h *TradeHandler) FXQuote(c *fiber.Ctx) error {
	var req FXQuoteRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	q, err := h.svc.FX.Quote(c.UserContext(), req.From, req.To, req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(q)
}
