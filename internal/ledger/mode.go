package ledger

import (
	"github.com/shopspring/decimal"
)

// ApplyResult is the outcome of routing one fee through the ledger.
type ApplyResult struct {
	// Distribution maps account (or DirectTransferKey) to the amount
	// credited. In distribution mode the values sum to the fee amount.
	Distribution map[string]decimal.Decimal
	// PoolTotal is the pending pool for the fee's currency after the
	// apply. Only meaningful when Pooled is true.
	PoolTotal decimal.Decimal
	// Pooled is true when the fee went to the pending pool rather than
	// the internal accounts.
	Pooled bool
}

// Mode is the fee-routing policy. Exactly one variant is active at a time;
// the engine selects it once per fee event.
type Mode interface {
	// Apply routes a fee amount through the snapshot, mutating it.
	Apply(s *Snapshot, amount decimal.Decimal, currency string) ApplyResult
	// AutoTransfer reports whether this is the auto-transfer variant.
	AutoTransfer() bool
}

// DistributionMode splits every fee across the internal accounts by ratio.
type DistributionMode struct {
	Config DistributionConfig
}

func (m DistributionMode) AutoTransfer() bool { return false }

func (m DistributionMode) Apply(s *Snapshot, amount decimal.Decimal, currency string) ApplyResult {
	dist := make(map[string]decimal.Decimal, len(m.Config))
	for account, ratio := range m.Config {
		share := amount.Mul(ratio)
		dist[account] = share
		s.Balances[account] = s.Balance(account).Add(share)
	}
	s.Mode = ModeDistribution
	s.Touch()
	return ApplyResult{Distribution: dist}
}

// AutoTransferMode accumulates fees into per-currency pending pools that
// are flushed externally once Threshold is crossed.
type AutoTransferMode struct {
	ReceiverAddress string
	Threshold       decimal.Decimal
}

func (m AutoTransferMode) AutoTransfer() bool { return true }

func (m AutoTransferMode) Apply(s *Snapshot, amount decimal.Decimal, currency string) ApplyResult {
	total := s.PendingFor(currency).Add(amount)
	s.Pending[currency] = total
	s.Mode = ModeAutoTransfer
	s.ReceiverAddress = m.ReceiverAddress
	s.Touch()
	return ApplyResult{
		Distribution: map[string]decimal.Decimal{DirectTransferKey: amount},
		PoolTotal:    total,
		Pooled:       true,
	}
}
