// Package transfer is the boundary to the external system that actually
// moves accumulated fees to a receiver address. The transfer call is
// opaque and may fail; the settlement engine treats any failure as
// terminal for that attempt and leaves the pool intact.
package transfer

import (
	"context"

	"github.com/shopspring/decimal"
)

// Result is the outcome of a successful transfer.
type Result struct {
	TxHash     string          `json:"tx_hash"`
	NetworkFee decimal.Decimal `json:"network_fee"`
}

// Gateway attempts to move an accumulated amount to an external
// destination. Implementations must honor ctx cancellation; the engine
// invokes Transfer while holding the per-currency lock.
type Gateway interface {
	Transfer(ctx context.Context, amount decimal.Decimal, currency, destination string) (*Result, error)
}
