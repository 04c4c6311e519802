package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot mode flags.
const (
	ModeDistribution = "distribution"
	ModeAutoTransfer = "auto_transfer"
)

// Snapshot is the live accounting state, mirrored to a single persisted
// row on every mutation. Balance history is reconstructable only from the
// settlement record stream, never from snapshot history.
type Snapshot struct {
	Mode            string                     `json:"mode"`
	Balances        map[string]decimal.Decimal `json:"balances"`
	Pending         map[string]decimal.Decimal `json:"pending_transfers"`
	ReceiverAddress string                     `json:"receiver_address,omitempty"`
	// Version increments on every mutation; the store drops writes whose
	// version is not strictly newer than the stored row, so wall-clock
	// ties cannot roll state back.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot returns a cold-start snapshot: distribution mode with zero
// balances for every required account.
func NewSnapshot() *Snapshot {
	balances := make(map[string]decimal.Decimal, len(RequiredAccounts))
	for _, account := range RequiredAccounts {
		balances[account] = decimal.Zero
	}
	return &Snapshot{
		Mode:      ModeDistribution,
		Balances:  balances,
		Pending:   make(map[string]decimal.Decimal),
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy safe to hand to persistence while the live
// snapshot keeps mutating.
func (s *Snapshot) Clone() *Snapshot {
	balances := make(map[string]decimal.Decimal, len(s.Balances))
	for k, v := range s.Balances {
		balances[k] = v
	}
	pending := make(map[string]decimal.Decimal, len(s.Pending))
	for k, v := range s.Pending {
		pending[k] = v
	}
	return &Snapshot{
		Mode:            s.Mode,
		Balances:        balances,
		Pending:         pending,
		ReceiverAddress: s.ReceiverAddress,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
	}
}

// Touch bumps the version and refreshes the update timestamp. Every
// mutation calls it before the snapshot is cloned for persistence.
func (s *Snapshot) Touch() {
	s.Version++
	s.UpdatedAt = time.Now().UTC()
}

// Balance returns the balance of an account, zero when absent.
func (s *Snapshot) Balance(account string) decimal.Decimal {
	if b, ok := s.Balances[account]; ok {
		return b
	}
	return decimal.Zero
}

// PendingFor returns the pending pool for a currency, zero when absent.
func (s *Snapshot) PendingFor(currency string) decimal.Decimal {
	if p, ok := s.Pending[currency]; ok {
		return p
	}
	return decimal.Zero
}
