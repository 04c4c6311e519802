// Package ledger holds the accounting state of the fee engine: account
// balances in distribution mode, per-currency pending pools in
// auto-transfer mode, and the snapshot that mirrors both to storage.
package ledger

import (
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
)

// Internal accounts fees are split across in distribution mode.
const (
	AccountPlatform           = "platform"
	AccountLiquidityProviders = "liquidity_providers"
	AccountRiskReserve        = "risk_reserve"
)

// DirectTransferKey is the synthetic distribution key used in
// auto-transfer mode: the whole fee is routed to the pending pool.
const DirectTransferKey = "direct_transfer"

// RequiredAccounts lists the accounts every distribution config must cover.
var RequiredAccounts = []string{
	AccountPlatform,
	AccountLiquidityProviders,
	AccountRiskReserve,
}

// ratioTolerance is the accepted deviation of a ratio sum from 1.0.
var ratioTolerance = decimal.NewFromFloat(0.01)

// DistributionConfig maps internal accounts to the ratio of each fee they
// receive.
type DistributionConfig map[string]decimal.Decimal

// DefaultDistribution returns the stock 70/20/10 split.
func DefaultDistribution() DistributionConfig {
	return DistributionConfig{
		AccountPlatform:           decimal.NewFromFloat(0.70),
		AccountLiquidityProviders: decimal.NewFromFloat(0.20),
		AccountRiskReserve:        decimal.NewFromFloat(0.10),
	}
}

// Validate checks that all required accounts are present, no ratio is
// negative, and the ratios sum to 1.0 within tolerance.
func (d DistributionConfig) Validate() error {
	for _, account := range RequiredAccounts {
		if _, ok := d[account]; !ok {
			return apperr.InvalidArgument("distribution missing account %q", account)
		}
	}
	sum := decimal.Zero
	for account, ratio := range d {
		if ratio.IsNegative() {
			return apperr.InvalidArgument("distribution ratio for %q is negative", account)
		}
		sum = sum.Add(ratio)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(ratioTolerance) {
		return apperr.InvalidArgument("distribution ratios sum to %s, want 1.0 (±0.01)", sum)
	}
	return nil
}

// Clone returns an independent copy of the config.
func (d DistributionConfig) Clone() DistributionConfig {
	out := make(DistributionConfig, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ValidateRatioSum checks that an arbitrary ratio set sums to 1.0 within
// tolerance. Used for liquidity-provider distribution plans, which have no
// fixed account set.
func ValidateRatioSum(ratios map[string]decimal.Decimal) error {
	if len(ratios) == 0 {
		return apperr.InvalidArgument("empty ratio set")
	}
	sum := decimal.Zero
	for name, ratio := range ratios {
		if ratio.IsNegative() {
			return apperr.InvalidArgument("ratio for %q is negative", name)
		}
		sum = sum.Add(ratio)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(ratioTolerance) {
		return apperr.InvalidArgument("ratios sum to %s, want 1.0 (±0.01)", sum)
	}
	return nil
}
