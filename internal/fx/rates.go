// Package fx provides currency rates and short-lived conversion quotes.
package fx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/internal/httpclient"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// RateSource returns the rates of every other currency against base: 1 base = rate quote.
type RateSource interface {
	Rates(ctx context.Context, base model.Currency) (map[string]decimal.Decimal, error)
}

var staticTable = map[model.Currency]map[string]decimal.Decimal{
	model.CurrencyRUB: {
		"CNY": decimal.RequireFromString("0.075"),
		"USD": decimal.RequireFromString("0.01"),
	},
	model.CurrencyCNY: {
		"RUB": decimal.RequireFromString("13.3"),
		"USD": decimal.RequireFromString("0.133"),
	},
	model.CurrencyUSD: {
		"RUB": decimal.RequireFromString("100"),
		"CNY": decimal.RequireFromString("7.5"),
	},
}

// StaticRates serves the fixed demo table.
type StaticRates struct{}

func (StaticRates) Rates(_ context.Context, base model.Currency) (map[string]decimal.Decimal, error) {
	row, ok := staticTable[base]
	if !ok {
		return nil, fmt.Errorf("fx: no static rates for %s", base)
	}
	out := make(map[string]decimal.Decimal, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, nil
}

// HTTPRates fetches rates from a JSON endpoint answering GET <url>?base=XXX with
// {"base": "XXX", "rates": {"YYY": 1.23}}.
type HTTPRates struct {
	exec    *httpclient.Executor
	baseURL string
}

func NewHTTPRates(exec *httpclient.Executor, baseURL string) *HTTPRates {
	return &HTTPRates{exec: exec, baseURL: baseURL}
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (h *HTTPRates) Rates(ctx context.Context, base model.Currency) (map[string]decimal.Decimal, error) {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return nil, fmt.Errorf("fx: invalid rates url: %w", err)
	}
	q := u.Query()
	q.Set("base", base.String())
	u.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var resp ratesResponse
	if err := h.exec.DoJSON(reqCtx, req, "fx:"+u.Host, &resp); err != nil {
		return nil, fmt.Errorf("fx: fetch rates for %s: %w", base, err)
	}
	if resp.Base != "" && resp.Base != base.String() {
		return nil, fmt.Errorf("fx: asked for %s rates, got %s", base, resp.Base)
	}
	return resp.Rates, nil
}
