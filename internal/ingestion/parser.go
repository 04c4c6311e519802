package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"feeledger/internal/fee"
)

// OrderFilled is a typed order-fill event ready for fee settlement.
type OrderFilled struct {
	OrderID      string
	UserID       string
	Symbol       string
	Side         string
	Amount       decimal.Decimal
	Price        decimal.Decimal
	Platform     fee.PlatformType
	Tier         fee.Tier
	SlippageRate *decimal.Decimal
	RoutingFee   *decimal.Decimal
	Timestamp    time.Time
}

// orderFilledJSON is the JSON payload received from NATS. Field names use
// snake_case to match upstream producers. Amounts arrive as JSON numbers
// or strings; decimal handles both.
type orderFilledJSON struct {
	OrderID      string           `json:"order_id"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Amount       decimal.Decimal  `json:"amount"`
	Price        decimal.Decimal  `json:"price"`
	PlatformType string           `json:"platform_type"`
	Tier         string           `json:"tier"`
	SlippageRate *decimal.Decimal `json:"slippage_rate,omitempty"`
	RoutingFee   *decimal.Decimal `json:"routing_fee,omitempty"`
	TimestampUs  int64            `json:"timestamp_us"`
}

// ParseOrderFilled converts a raw NATS payload into a typed OrderFilled.
// Malformed JSON or missing identifiers are parse errors; amount and price
// validation is left to the fee calculator.
func ParseOrderFilled(data []byte) (*OrderFilled, error) {
	var j orderFilledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderFilled: %w", err)
	}
	if j.OrderID == "" {
		return nil, fmt.Errorf("parse OrderFilled: missing order_id")
	}
	if j.Symbol == "" {
		return nil, fmt.Errorf("parse OrderFilled: missing symbol")
	}

	tier := fee.Tier(j.Tier)
	if j.Tier == "" {
		tier = fee.TierBasic
	}
	platform := fee.PlatformType(j.PlatformType)
	if j.PlatformType == "" {
		platform = fee.PlatformCEX
	}

	return &OrderFilled{
		OrderID:      j.OrderID,
		UserID:       j.UserID,
		Symbol:       j.Symbol,
		Side:         j.Side,
		Amount:       j.Amount,
		Price:        j.Price,
		Platform:     platform,
		Tier:         tier,
		SlippageRate: j.SlippageRate,
		RoutingFee:   j.RoutingFee,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}
