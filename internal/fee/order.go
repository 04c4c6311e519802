package fee

import (
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
)

// Order side values.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order is the subset of an order payload the fee layer reads and enriches.
type Order struct {
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id,omitempty"`
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`

	// Fee fields, populated by ApplyQuote.
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	FeeInToken     decimal.Decimal `json:"fee_in_token"`
	FeeCurrency    string          `json:"fee_currency"`
	ReceivedAmount decimal.Decimal `json:"received_amount,omitempty"`
	ReceivedFiat   decimal.Decimal `json:"received_fiat,omitempty"`
}

// ApplyQuote merges a fee quote into an order and adjusts the proceeds.
// Buys receive the base token net of the token-denominated fee; sells
// receive the fiat notional net of the total fee.
func ApplyQuote(order Order, q *Quote) (Order, error) {
	if order.Side != SideBuy && order.Side != SideSell {
		return Order{}, apperr.InvalidArgument("unknown order side %q", order.Side)
	}
	order.FeeAmount = q.TotalFee
	order.FeeRate = q.EffectiveRate
	order.FeeInToken = q.FeeInBaseToken
	order.FeeCurrency = QuoteToken(order.Symbol)

	switch order.Side {
	case SideBuy:
		order.ReceivedAmount = order.Amount.Sub(q.FeeInBaseToken)
	case SideSell:
		order.ReceivedFiat = order.Amount.Mul(order.Price).Sub(q.TotalFee)
	}
	return order, nil
}
