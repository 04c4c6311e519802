// Package settlement orchestrates fee settlement: it routes each realized
// fee through the accounting ledger, optionally flushes the pending pool
// through the transfer gateway, and persists one immutable record per fee
// event and per transfer attempt.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default fee type when the caller does not set one.
const FeeTypeTrading = "trading"

// Transfer status of a settlement record.
const (
	TransferStatusNotApplicable = "not_applicable"
	TransferStatusPending       = "pending"
	TransferStatusCompleted     = "completed"
	TransferStatusFailed        = "failed"
)

// Overall status of a settlement record.
const (
	StatusCompleted       = "completed"
	StatusPendingTransfer = "pending_transfer"
)

// SettlementRecord is the immutable ledger entry for one fee event.
// The only post-write mutation allowed is the transfer outcome of the
// record that triggered a pool flush; earlier contributors to the same
// flush are never back-filled.
type SettlementRecord struct {
	SettlementID        string                     `json:"settlement_id"`
	Timestamp           time.Time                  `json:"timestamp"`
	OrderID             string                     `json:"order_id"`
	UserID              string                     `json:"user_id,omitempty"`
	FeeAmount           decimal.Decimal            `json:"fee_amount"`
	Currency            string                     `json:"currency"`
	FeeType             string                     `json:"fee_type"`
	Distribution        map[string]decimal.Decimal `json:"distribution"`
	ReceiverAddress     string                     `json:"receiver_address,omitempty"`
	AutoTransferPending decimal.Decimal            `json:"auto_transfer_pending"`
	Transferred         bool                       `json:"auto_transferred"`
	TransferStatus      string                     `json:"transfer_status"`
	Status              string                     `json:"status"`
}

// TransferRecord is the immutable ledger entry for one attempted pool
// flush.
type TransferRecord struct {
	TransferID  string          `json:"transfer_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination"`
	Status      string          `json:"status"`
	TxHash      string          `json:"tx_hash,omitempty"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
	Error       string          `json:"error,omitempty"`
}

// WithdrawalRecord is the audit entry for a platform-fee withdrawal.
type WithdrawalRecord struct {
	WithdrawalID string          `json:"withdrawal_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Destination  string          `json:"destination"`
}

// newSettlementID builds a settlement id from the event timestamp and the
// tail of the order id. Practical collision avoidance only, not global
// uniqueness.
func newSettlementID(now time.Time, orderID string) string {
	suffix := orderID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	if suffix == "" {
		suffix = "manual"
	}
	return fmt.Sprintf("stl_%d_%s", now.UnixMilli(), suffix)
}

// newTransferSuffix returns a random id component for transfer and
// withdrawal records.
func newTransferSuffix() string {
	return uuid.NewString()
}
