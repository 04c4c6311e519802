package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/ledger"
)

// Warning returned by admin operations while auto-transfer mode is active.
const autoTransferWarning = "auto-transfer mode is active; distribution-mode state is inert and was not modified"

// DistributionUpdateResult is the outcome of UpdateFeeDistribution.
type DistributionUpdateResult struct {
	Warning string                    `json:"warning,omitempty"`
	Ratios  ledger.DistributionConfig `json:"ratios,omitempty"`
}

// UpdateFeeDistribution replaces the distribution config. Rejected ratio
// sets leave the previous config untouched. In auto-transfer mode the
// call returns a warning and changes nothing.
func (e *Engine) UpdateFeeDistribution(ratios ledger.DistributionConfig) (*DistributionUpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.autoTransferActiveLocked() {
		return &DistributionUpdateResult{Warning: autoTransferWarning}, nil
	}
	if err := ratios.Validate(); err != nil {
		return nil, err
	}
	e.distCfg = ratios.Clone()
	e.mode = ledger.DistributionMode{Config: e.distCfg}

	e.log.Info().Msg("fee distribution config replaced")
	return &DistributionUpdateResult{Ratios: e.distCfg.Clone()}, nil
}

// WithdrawalResult is the outcome of WithdrawPlatformFee.
type WithdrawalResult struct {
	Warning string            `json:"warning,omitempty"`
	Record  *WithdrawalRecord `json:"record,omitempty"`
	Balance decimal.Decimal   `json:"remaining_balance"`
}

// WithdrawPlatformFee moves part of the platform account balance to an
// external destination and records the withdrawal.
func (e *Engine) WithdrawPlatformFee(ctx context.Context, amount decimal.Decimal, currency, destination string) (*WithdrawalResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.InvalidArgument("withdrawal amount must be positive, got %s", amount)
	}
	if destination == "" {
		return nil, apperr.InvalidArgument("withdrawal destination is required")
	}

	e.mu.Lock()
	if e.autoTransferActiveLocked() {
		e.mu.Unlock()
		return &WithdrawalResult{Warning: autoTransferWarning}, nil
	}
	balance := e.snap.Balance(ledger.AccountPlatform)
	if amount.GreaterThan(balance) {
		e.mu.Unlock()
		return nil, apperr.InvalidArgument("insufficient platform balance: have %s, want %s", balance, amount)
	}
	e.snap.Balances[ledger.AccountPlatform] = balance.Sub(amount)
	e.snap.Touch()
	snapCopy := e.snap.Clone()
	remaining := e.snap.Balance(ledger.AccountPlatform)
	e.updateBalanceGaugesLocked()
	e.mu.Unlock()

	rec := &WithdrawalRecord{
		WithdrawalID: "wd_" + newTransferSuffix(),
		Timestamp:    time.Now().UTC(),
		Amount:       amount,
		Currency:     currency,
		Destination:  destination,
	}
	if err := e.store.SaveWithdrawalRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.store.SaveSnapshot(ctx, snapCopy); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("amount", amount.String()).
		Str("currency", currency).
		Str("withdrawal_id", rec.WithdrawalID).
		Msg("platform fee withdrawn")

	return &WithdrawalResult{Record: rec, Balance: remaining}, nil
}

// ProviderShare is one liquidity provider's slice of a distribution plan.
type ProviderShare struct {
	ProviderID string          `json:"provider_id"`
	Ratio      decimal.Decimal `json:"ratio"`
}

// LPDistributionResult is the outcome of DistributeLiquidityProviderFees.
type LPDistributionResult struct {
	Warning          string                     `json:"warning,omitempty"`
	TotalDistributed decimal.Decimal            `json:"total_distributed"`
	Amounts          map[string]decimal.Decimal `json:"amounts,omitempty"`
}

// DistributeLiquidityProviderFees splits the accumulated liquidity
// provider balance across providers per plan and zeroes the balance.
func (e *Engine) DistributeLiquidityProviderFees(ctx context.Context, plan []ProviderShare) (*LPDistributionResult, error) {
	ratios := make(map[string]decimal.Decimal, len(plan))
	for _, share := range plan {
		if share.ProviderID == "" {
			return nil, apperr.InvalidArgument("provider id is required")
		}
		if _, dup := ratios[share.ProviderID]; dup {
			return nil, apperr.InvalidArgument("duplicate provider %q in plan", share.ProviderID)
		}
		ratios[share.ProviderID] = share.Ratio
	}
	if err := ledger.ValidateRatioSum(ratios); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.autoTransferActiveLocked() {
		e.mu.Unlock()
		return &LPDistributionResult{Warning: autoTransferWarning}, nil
	}
	balance := e.snap.Balance(ledger.AccountLiquidityProviders)
	if !balance.IsPositive() {
		e.mu.Unlock()
		return nil, apperr.InvalidArgument("no liquidity provider fees to distribute")
	}
	e.snap.Balances[ledger.AccountLiquidityProviders] = decimal.Zero
	e.snap.Touch()
	snapCopy := e.snap.Clone()
	e.updateBalanceGaugesLocked()
	e.mu.Unlock()

	amounts := make(map[string]decimal.Decimal, len(ratios))
	for provider, ratio := range ratios {
		amounts[provider] = balance.Mul(ratio)
	}

	if err := e.store.SaveSnapshot(ctx, snapCopy); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("total", balance.String()).
		Int("providers", len(amounts)).
		Msg("liquidity provider fees distributed")

	return &LPDistributionResult{TotalDistributed: balance, Amounts: amounts}, nil
}
