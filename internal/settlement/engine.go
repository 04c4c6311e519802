package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/ledger"
	"feeledger/internal/observability"
	"feeledger/internal/transfer"
)

// AutoTransferConfig controls auto-transfer mode. The mode is active only
// when Enabled is true and a receiver address is set; while active,
// distribution config updates are accepted but inert.
type AutoTransferConfig struct {
	Enabled         bool            `json:"enabled"`
	ReceiverAddress string          `json:"receiver_address"`
	Threshold       decimal.Decimal `json:"threshold"`
}

// FeeInput is one realized fee to settle.
type FeeInput struct {
	Amount   decimal.Decimal
	Currency string
	OrderID  string
	UserID   string
	FeeType  string
}

// Engine is the settlement orchestrator. It owns the live ledger snapshot
// and the active routing mode, and serializes fee processing per currency.
//
// Lock discipline: the per-currency lock covers the whole
// read-modify-write-persist cycle of ProcessFee including any flush, so a
// slow external transfer blocks only its own currency. The engine mutex
// guards the snapshot maps and mode switches and is never held across
// gateway calls.
type Engine struct {
	log     zerolog.Logger
	metrics *observability.Metrics
	store   Store
	gateway transfer.Gateway

	mu      sync.Mutex
	mode    ledger.Mode
	snap    *ledger.Snapshot
	distCfg ledger.DistributionConfig
	autoCfg AutoTransferConfig

	locks *ledger.CurrencyLocks
}

// NewEngine creates an engine in distribution mode with the default
// 70/20/10 split and an empty snapshot. Call Restore before serving
// traffic.
func NewEngine(store Store, gateway transfer.Gateway, metrics *observability.Metrics) *Engine {
	distCfg := ledger.DefaultDistribution()
	return &Engine{
		log:     observability.NewLogger("settlement-engine"),
		metrics: metrics,
		store:   store,
		gateway: gateway,
		mode:    ledger.DistributionMode{Config: distCfg},
		snap:    ledger.NewSnapshot(),
		distCfg: distCfg,
		locks:   ledger.NewCurrencyLocks(),
	}
}

// ConfigureAutoTransfer applies startup auto-transfer settings without
// persisting. Used by main before Restore to seed the mode from env.
func (e *Engine) ConfigureAutoTransfer(cfg AutoTransferConfig) error {
	if err := validateAutoTransfer(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyAutoTransferLocked(cfg)
	return nil
}

// Restore loads the persisted snapshot and adopts its state. A snapshot in
// auto-transfer mode re-enables the mode with the stored receiver address
// only when a valid flush threshold was configured beforehand; the
// threshold is not part of the snapshot, and a zero threshold would flush
// on every single fee. Without one the engine stays in distribution mode
// until the settings endpoint enables the mode explicitly.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		e.log.Info().Msg("no persisted snapshot, cold start")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = snap
	if snap.Mode == ledger.ModeAutoTransfer && snap.ReceiverAddress != "" {
		cfg := e.autoCfg
		cfg.Enabled = true
		cfg.ReceiverAddress = snap.ReceiverAddress
		if verr := validateAutoTransfer(cfg); verr != nil {
			e.log.Warn().Err(verr).
				Str("receiver", snap.ReceiverAddress).
				Msg("snapshot is in auto-transfer mode but no valid threshold is configured, staying in distribution mode")
		} else {
			e.applyAutoTransferLocked(cfg)
		}
	}
	e.updateBalanceGaugesLocked()

	e.log.Info().
		Str("mode", snap.Mode).
		Time("updated_at", snap.UpdatedAt).
		Msg("ledger snapshot restored")
	return nil
}

// ProcessFee settles one fee event: routes it through the active mode,
// persists the settlement record and the new snapshot, and flushes the
// pending pool when the threshold is crossed.
//
// The record is durable with status pending_transfer before any transfer
// attempt, so a caller timeout during the external call never loses the
// event. A failed transfer leaves the pool unchanged and is not an error;
// the failure is visible on the returned record and its TransferRecord.
func (e *Engine) ProcessFee(ctx context.Context, in FeeInput) (*SettlementRecord, error) {
	start := time.Now()

	if !in.Amount.IsPositive() {
		e.countRejected("non_positive_amount")
		return nil, apperr.InvalidArgument("fee amount must be positive, got %s", in.Amount)
	}
	if in.Currency == "" {
		e.countRejected("missing_currency")
		return nil, apperr.InvalidArgument("currency is required")
	}
	feeType := in.FeeType
	if feeType == "" {
		feeType = FeeTypeTrading
	}

	lock := e.locks.Get(in.Currency)
	lockStart := time.Now()
	lock.Lock()
	defer lock.Unlock()
	e.observeLockWait(in.Currency, time.Since(lockStart))

	e.mu.Lock()
	mode := e.mode
	autoCfg := e.autoCfg
	res := mode.Apply(e.snap, in.Amount, in.Currency)
	snapCopy := e.snap.Clone()
	e.updateBalanceGaugesLocked()
	e.mu.Unlock()

	now := time.Now().UTC()
	rec := &SettlementRecord{
		SettlementID: newSettlementID(now, in.OrderID),
		Timestamp:    now,
		OrderID:      in.OrderID,
		UserID:       in.UserID,
		FeeAmount:    in.Amount,
		Currency:     in.Currency,
		FeeType:      feeType,
		Distribution: res.Distribution,
	}

	if !res.Pooled {
		rec.Status = StatusCompleted
		rec.TransferStatus = TransferStatusNotApplicable
		if err := e.store.SaveSettlementRecord(ctx, rec); err != nil {
			e.countRejected("persist")
			return nil, err
		}
		if err := e.store.SaveSnapshot(ctx, snapCopy); err != nil {
			e.countRejected("persist")
			return nil, err
		}
		e.countProcessed(ledger.ModeDistribution, in)
		e.observeProcess(ledger.ModeDistribution, time.Since(start))
		return rec, nil
	}

	rec.ReceiverAddress = autoCfg.ReceiverAddress
	rec.AutoTransferPending = res.PoolTotal
	rec.Status = StatusPendingTransfer
	rec.TransferStatus = TransferStatusPending

	// Durable before the transfer attempt.
	if err := e.store.SaveSettlementRecord(ctx, rec); err != nil {
		e.countRejected("persist")
		return nil, err
	}
	if err := e.store.SaveSnapshot(ctx, snapCopy); err != nil {
		e.countRejected("persist")
		return nil, err
	}

	if res.PoolTotal.GreaterThanOrEqual(autoCfg.Threshold) {
		e.flushPool(ctx, rec, res.PoolTotal, in.Currency, autoCfg.ReceiverAddress)
	}

	e.countProcessed(ledger.ModeAutoTransfer, in)
	e.observeProcess(ledger.ModeAutoTransfer, time.Since(start))
	return rec, nil
}

// flushPool attempts one external transfer of the accumulated pool. Called
// with the per-currency lock held. Only the triggering record carries the
// transfer outcome; earlier contributors keep their pending_transfer
// status as an audit trail of the batched amount.
func (e *Engine) flushPool(ctx context.Context, rec *SettlementRecord, amount decimal.Decimal, currency, destination string) {
	e.countTransferAttempt(currency)
	e.log.Info().
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("settlement_id", rec.SettlementID).
		Msg("pool threshold crossed, flushing")

	transferStart := time.Now()
	result, err := e.gateway.Transfer(ctx, amount, currency, destination)
	e.observeTransfer(time.Since(transferStart))

	trec := &TransferRecord{
		TransferID:  "tr_" + newTransferSuffix(),
		Timestamp:   time.Now().UTC(),
		Amount:      amount,
		Currency:    currency,
		Destination: destination,
	}

	if err != nil {
		// Pool stays intact; the next threshold crossing retries.
		trec.Status = TransferStatusFailed
		trec.Error = err.Error()
		rec.TransferStatus = TransferStatusFailed

		e.countTransferFailed(currency)
		e.log.Error().Err(err).
			Str("currency", currency).
			Str("amount", amount.String()).
			Msg("pool flush failed")

		if err := e.store.SaveTransferRecord(ctx, trec); err != nil {
			e.log.Error().Err(err).Msg("persist failed transfer record")
		}
		if err := e.store.SaveSettlementRecord(ctx, rec); err != nil {
			e.log.Error().Err(err).Msg("persist settlement record after failed flush")
		}
		return
	}

	e.mu.Lock()
	e.snap.Pending[currency] = decimal.Zero
	e.snap.Touch()
	snapCopy := e.snap.Clone()
	e.updateBalanceGaugesLocked()
	e.mu.Unlock()

	trec.Status = TransferStatusCompleted
	trec.TxHash = result.TxHash
	trec.NetworkFee = result.NetworkFee

	rec.Transferred = true
	rec.TransferStatus = TransferStatusCompleted
	rec.Status = StatusCompleted

	e.countTransferSucceeded(currency, amount)
	e.log.Info().
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("tx_hash", result.TxHash).
		Msg("pool flushed")

	if err := e.store.SaveTransferRecord(ctx, trec); err != nil {
		e.log.Error().Err(err).Msg("persist transfer record")
	}
	if err := e.store.SaveSettlementRecord(ctx, rec); err != nil {
		e.log.Error().Err(err).Msg("persist settlement record after flush")
	}
	if err := e.store.SaveSnapshot(ctx, snapCopy); err != nil {
		e.log.Error().Err(err).Msg("persist snapshot after flush")
	}
}

// AutoTransferActive reports whether auto-transfer mode is currently in
// effect.
func (e *Engine) AutoTransferActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoTransferActiveLocked()
}

// PendingPools returns a copy of the per-currency pending pools.
func (e *Engine) PendingPools() map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(e.snap.Pending))
	for k, v := range e.snap.Pending {
		out[k] = v
	}
	return out
}

// SnapshotView returns a point-in-time copy of the ledger snapshot.
func (e *Engine) SnapshotView() *ledger.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// DistributionRatios returns a copy of the active distribution config.
func (e *Engine) DistributionRatios() ledger.DistributionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.distCfg.Clone()
}

// AutoTransferSettings returns the current auto-transfer configuration.
func (e *Engine) AutoTransferSettings() AutoTransferConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoCfg
}

// UpdateAutoTransferSettings swaps the routing mode at runtime and
// persists the snapshot's mode flag.
func (e *Engine) UpdateAutoTransferSettings(ctx context.Context, cfg AutoTransferConfig) error {
	if err := validateAutoTransfer(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	e.applyAutoTransferLocked(cfg)
	if e.autoTransferActiveLocked() {
		e.snap.Mode = ledger.ModeAutoTransfer
		e.snap.ReceiverAddress = cfg.ReceiverAddress
	} else {
		e.snap.Mode = ledger.ModeDistribution
		e.snap.ReceiverAddress = ""
	}
	e.snap.Touch()
	snapCopy := e.snap.Clone()
	e.mu.Unlock()

	e.log.Info().
		Bool("enabled", cfg.Enabled).
		Str("threshold", cfg.Threshold.String()).
		Msg("auto-transfer settings updated")

	return e.store.SaveSnapshot(ctx, snapCopy)
}

func validateAutoTransfer(cfg AutoTransferConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.ReceiverAddress) < 10 {
		return apperr.InvalidArgument("receiver address %q too short", cfg.ReceiverAddress)
	}
	if !cfg.Threshold.IsPositive() {
		return apperr.InvalidArgument("transfer threshold must be positive, got %s", cfg.Threshold)
	}
	return nil
}

func (e *Engine) applyAutoTransferLocked(cfg AutoTransferConfig) {
	e.autoCfg = cfg
	if cfg.Enabled && cfg.ReceiverAddress != "" {
		e.mode = ledger.AutoTransferMode{
			ReceiverAddress: cfg.ReceiverAddress,
			Threshold:       cfg.Threshold,
		}
	} else {
		e.mode = ledger.DistributionMode{Config: e.distCfg}
	}
}

func (e *Engine) autoTransferActiveLocked() bool {
	return e.autoCfg.Enabled && e.autoCfg.ReceiverAddress != ""
}

// --- metrics helpers (nil-safe for tests without a registry) ---

func (e *Engine) countProcessed(mode string, in FeeInput) {
	if e.metrics == nil {
		return
	}
	e.metrics.FeesProcessed.WithLabelValues(mode, in.Currency).Inc()
	e.metrics.FeeAmountTotal.WithLabelValues(in.Currency).Add(in.Amount.InexactFloat64())
}

func (e *Engine) countRejected(reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.FeesRejected.WithLabelValues(reason).Inc()
}

func (e *Engine) observeProcess(mode string, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ProcessDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (e *Engine) observeLockWait(currency string, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.LockWaitDuration.WithLabelValues(currency).Observe(d.Seconds())
}

func (e *Engine) observeTransfer(d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransferDuration.Observe(d.Seconds())
}

func (e *Engine) countTransferAttempt(currency string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransfersAttempted.WithLabelValues(currency).Inc()
}

func (e *Engine) countTransferFailed(currency string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransfersFailed.WithLabelValues(currency).Inc()
}

func (e *Engine) countTransferSucceeded(currency string, amount decimal.Decimal) {
	if e.metrics == nil {
		return
	}
	e.metrics.TransfersSucceeded.WithLabelValues(currency).Inc()
	e.metrics.TransferAmount.WithLabelValues(currency).Add(amount.InexactFloat64())
}

func (e *Engine) updateBalanceGaugesLocked() {
	if e.metrics == nil {
		return
	}
	for account, balance := range e.snap.Balances {
		e.metrics.AccountBalance.WithLabelValues(account).Set(balance.InexactFloat64())
	}
	for currency, pending := range e.snap.Pending {
		e.metrics.PendingPool.WithLabelValues(currency).Set(pending.InexactFloat64())
	}
}
