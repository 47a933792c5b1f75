package api

import (
	"context"
	"fmt"
	"net/url"
)

// GetProduct fetches a single product by id.
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	if err := c.get(ctx, "/products/"+url.PathEscape(id), &p); err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

// ProductCheck is the verification result for one configured product.
type ProductCheck struct {
	ID      string
	Product *Product // nil when the lookup failed
	Err     error
}

// OK reports whether the product exists and is tradable.
func (r ProductCheck) OK() bool {
	return r.Err == nil && r.Product != nil && r.Product.Tradable()
}

// VerifyProducts looks up every id and logs a warning for each product that
// is missing or not trading. It never fails the caller; results are returned
// for inspection.
func (c *Client) VerifyProducts(ctx context.Context, ids []string) []ProductCheck {
	results := make([]ProductCheck, 0, len(ids))
	for _, id := range ids {
		p, err := c.GetProduct(ctx, id)
		r := ProductCheck{ID: id, Product: p, Err: err}
		results = append(results, r)

		switch {
		case err != nil && IsNotFound(err):
			c.logger.Warn("configured product not found upstream", "product", id)
		case err != nil:
			c.logger.Warn("product lookup failed", "product", id, "error", err)
		case !p.Tradable():
			c.logger.Warn("configured product is not trading",
				"product", id,
				"status", p.Status,
				"status_message", p.StatusMessage,
				"trading_disabled", p.TradingDisabled,
			)
		default:
			c.logger.Debug("product verified", "product", id, "status", p.Status)
		}
	}
	return results
}
