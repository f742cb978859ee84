// Package pricing is the client of the catalog pricing service, the price
// calculator behind the price index.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/httpclient"
)

const serviceName = "pricing-service"

// Doer sends HTTP requests. *httpclient.CircuitBreakerClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client computes product prices through the pricing service.
type Client struct {
	http    Doer
	baseURL string
}

// NewClient builds a pricing client guarded by a circuit breaker.
func NewClient(baseURL string, cfg httpclient.Config, logger *slog.Logger) *Client {
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg),
		httpclient.DefaultCircuitBreakerConfig(serviceName),
		logger,
	)
	return NewClientWithDoer(baseURL, breaker)
}

// NewClientWithDoer builds a pricing client over an arbitrary Doer.
func NewClientWithDoer(baseURL string, doer Doer) *Client {
	return &Client{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

type computeResponse struct {
	Data struct {
		Amount decimal.Decimal `json:"amount"`
	} `json:"data"`
}

// ComputePrice returns the amount, in minor units, of one product for the
// given shop, currency, country, group and quantity.
func (c *Client) ComputePrice(ctx context.Context, q domain.PriceQuery) (decimal.Decimal, error) {
	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/prices/compute", q)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("compute price for product %d: %w", q.ProductID, err)
	}

	var out computeResponse
	if err := httpclient.DecodeJSON(resp, &out, serviceName); err != nil {
		return decimal.Zero, fmt.Errorf("compute price for product %d: %w", q.ProductID, err)
	}
	return out.Data.Amount, nil
}
