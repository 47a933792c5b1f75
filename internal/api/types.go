package api

// Product is a tradable pair as returned by GET /products/{id}.
type Product struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	QuoteIncrement  string `json:"quote_increment"`
	BaseIncrement   string `json:"base_increment"`
	DisplayName     string `json:"display_name"`
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message"`
	TradingDisabled bool   `json:"trading_disabled"`
	CancelOnly      bool   `json:"cancel_only"`
	PostOnly        bool   `json:"post_only"`
	LimitOnly       bool   `json:"limit_only"`
}

// Product status values.
const (
	ProductStatusOnline   = "online"
	ProductStatusOffline  = "offline"
	ProductStatusInternal = "internal"
	ProductStatusDelisted = "delisted"
)

// Tradable reports whether the product is online and accepting orders.
func (p Product) Tradable() bool {
	return p.Status == ProductStatusOnline && !p.TradingDisabled
}
