package fee

import (
	"strings"

	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
)

// Scale-factor brackets. Large trades get dampened slippage, dust trades
// get amplified slippage.
var (
	largeNotional = decimal.NewFromInt(100_000)
	midNotional   = decimal.NewFromInt(10_000)
	smallNotional = decimal.NewFromInt(100)

	scaleLarge   = decimal.NewFromFloat(0.8)
	scaleMid     = decimal.NewFromFloat(0.9)
	scaleSmall   = decimal.NewFromFloat(1.2)
	scaleNeutral = decimal.NewFromFloat(1.0)
)

// QuoteRequest carries the inputs of a single fee quote.
// SlippageRate and RoutingFee override the configured defaults when set.
type QuoteRequest struct {
	Symbol       string
	Amount       decimal.Decimal
	Price        decimal.Decimal
	Platform     PlatformType
	Tier         Tier
	SlippageRate *decimal.Decimal
	RoutingFee   *decimal.Decimal
}

// Quote is the computed fee breakdown for one trade. It is ephemeral and
// never persisted; the realized fee flows into the settlement engine.
type Quote struct {
	Symbol         string          `json:"symbol"`
	BaseToken      string          `json:"base_token"`
	Notional       decimal.Decimal `json:"notional"`
	SlippageFee    decimal.Decimal `json:"slippage_fee"`
	RoutingFee     decimal.Decimal `json:"routing_fee"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	FeeInBaseToken decimal.Decimal `json:"fee_in_base_token"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	Tier           Tier            `json:"tier"`
	Platform       PlatformType    `json:"platform_type"`
}

// RedactedQuote is the quote view returned while auto-transfer mode is
// active: itemized legs are withheld, only aggregate amounts are exposed.
type RedactedQuote struct {
	Symbol         string          `json:"symbol"`
	Notional       decimal.Decimal `json:"notional"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	FeeInBaseToken decimal.Decimal `json:"fee_in_base_token"`
}

// Redacted returns the information-hiding view of the quote.
func (q *Quote) Redacted() RedactedQuote {
	return RedactedQuote{
		Symbol:         q.Symbol,
		Notional:       q.Notional,
		TotalFee:       q.TotalFee,
		FeeInBaseToken: q.FeeInBaseToken,
	}
}

// Calculator prices trades against the current Config. It is stateless
// beyond the config reference and safe for concurrent use.
type Calculator struct {
	cfg *Config
}

// NewCalculator creates a Calculator over the given pricing config.
func NewCalculator(cfg *Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Quote prices a single trade.
//
// slippage = notional * rate * platform_multiplier * tier_discount * scale
// routing  = flat_amount * tier_discount
func (c *Calculator) Quote(req QuoteRequest) (*Quote, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.InvalidArgument("amount must be positive, got %s", req.Amount)
	}
	if !req.Price.IsPositive() {
		return nil, apperr.InvalidArgument("price must be positive, got %s", req.Price)
	}
	platformMult, err := PlatformMultiplier(req.Platform)
	if err != nil {
		return nil, err
	}
	discount, err := TierDiscount(req.Tier)
	if err != nil {
		return nil, err
	}

	notional := req.Amount.Mul(req.Price)

	rate := c.cfg.BaseSlippageRate()
	if req.SlippageRate != nil {
		if req.SlippageRate.IsNegative() {
			return nil, apperr.InvalidArgument("slippage rate override must not be negative")
		}
		rate = *req.SlippageRate
	}
	routing := c.cfg.FlatRoutingFee()
	if req.RoutingFee != nil {
		if req.RoutingFee.IsNegative() {
			return nil, apperr.InvalidArgument("routing fee override must not be negative")
		}
		routing = *req.RoutingFee
	}

	slippageFee := notional.Mul(rate).Mul(platformMult).Mul(discount).Mul(scaleFactor(notional))
	routingFee := routing.Mul(discount)
	totalFee := slippageFee.Add(routingFee)

	return &Quote{
		Symbol:         req.Symbol,
		BaseToken:      BaseToken(req.Symbol),
		Notional:       notional,
		SlippageFee:    slippageFee,
		RoutingFee:     routingFee,
		TotalFee:       totalFee,
		FeeInBaseToken: totalFee.Div(req.Price),
		EffectiveRate:  totalFee.Div(notional),
		Tier:           req.Tier,
		Platform:       req.Platform,
	}, nil
}

// scaleFactor returns the size-dependent slippage multiplier.
func scaleFactor(notional decimal.Decimal) decimal.Decimal {
	switch {
	case notional.GreaterThan(largeNotional):
		return scaleLarge
	case notional.GreaterThan(midNotional):
		return scaleMid
	case notional.LessThan(smallNotional):
		return scaleSmall
	default:
		return scaleNeutral
	}
}

// BaseToken extracts the base token from a pair symbol ("BTC/USDT" -> "BTC").
// Symbols without a separator are returned unchanged.
func BaseToken(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// QuoteToken extracts the quote token from a pair symbol
// ("BTC/USDT" -> "USDT"). Falls back to "USD" when there is no separator.
func QuoteToken(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 && i+1 < len(symbol) {
		return symbol[i+1:]
	}
	return "USD"
}
