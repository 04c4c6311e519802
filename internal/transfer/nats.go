package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/observability"
)

// TransferSubject is the request/reply subject the transfer executor
// listens on.
const TransferSubject = "fee.transfer.request"

// transferRequest is the wire payload sent to the transfer executor.
type transferRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination"`
	RequestedAt time.Time       `json:"requested_at"`
}

// transferReply is the wire payload returned by the transfer executor.
type transferReply struct {
	Status     string          `json:"status"`
	TxHash     string          `json:"tx_hash,omitempty"`
	NetworkFee decimal.Decimal `json:"network_fee"`
	Error      string          `json:"error,omitempty"`
}

// NATSGateway sends transfer requests over NATS request/reply and waits
// for the executor's confirmation.
type NATSGateway struct {
	nc      *nats.Conn
	timeout time.Duration
	log     zerolog.Logger
}

// NewNATSGateway creates a gateway over an existing NATS connection.
func NewNATSGateway(nc *nats.Conn, timeout time.Duration) *NATSGateway {
	return &NATSGateway{
		nc:      nc,
		timeout: timeout,
		log:     observability.NewLogger("transfer-gateway"),
	}
}

// Transfer sends one transfer request and blocks for the reply. A missing
// or failed reply is reported as Unavailable; the caller decides what the
// failure means for the pool.
func (g *NATSGateway) Transfer(ctx context.Context, amount decimal.Decimal, currency, destination string) (*Result, error) {
	payload, err := json.Marshal(transferRequest{
		Amount:      amount,
		Currency:    currency,
		Destination: destination,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.log.Info().
		Str("currency", currency).
		Str("amount", amount.String()).
		Msg("requesting external transfer")

	msg, err := g.nc.RequestWithContext(ctx, TransferSubject, payload)
	if err != nil {
		return nil, apperr.Unavailable("transfer request", err)
	}

	var reply transferReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, apperr.Unavailable("decode transfer reply", err)
	}
	if reply.Status != "completed" {
		return nil, apperr.Unavailable("transfer rejected",
			fmt.Errorf("status %q: %s", reply.Status, reply.Error))
	}

	g.log.Info().
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("tx_hash", reply.TxHash).
		Msg("external transfer confirmed")

	return &Result{TxHash: reply.TxHash, NetworkFee: reply.NetworkFee}, nil
}
