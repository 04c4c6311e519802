package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/ledger"
	"feeledger/internal/settlement"
	"feeledger/internal/transfer"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memStore is an in-memory settlement.Store capturing each save as a
// point-in-time copy, so tests can assert what was durable when.
type memStore struct {
	mu            sync.Mutex
	settlements   map[string]settlement.SettlementRecord
	settlementLog []settlement.SettlementRecord
	transfers     []settlement.TransferRecord
	withdrawals   []settlement.WithdrawalRecord
	snap          *ledger.Snapshot
}

func newMemStore() *memStore {
	return &memStore{settlements: make(map[string]settlement.SettlementRecord)}
}

func (m *memStore) SaveSettlementRecord(_ context.Context, rec *settlement.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[rec.SettlementID] = *rec
	m.settlementLog = append(m.settlementLog, *rec)
	return nil
}

func (m *memStore) SaveTransferRecord(_ context.Context, rec *settlement.TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, *rec)
	return nil
}

func (m *memStore) SaveWithdrawalRecord(_ context.Context, rec *settlement.WithdrawalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals = append(m.withdrawals, *rec)
	return nil
}

func (m *memStore) SaveSnapshot(_ context.Context, snap *ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	return nil
}

func (m *memStore) LoadSnapshot(_ context.Context) (*ledger.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	return m.snap.Clone(), nil
}

func (m *memStore) ListSettlementRecords(_ context.Context, _, _ *time.Time, _ int) ([]*settlement.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*settlement.SettlementRecord, 0, len(m.settlements))
	for id := range m.settlements {
		rec := m.settlements[id]
		out = append(out, &rec)
	}
	return out, nil
}

func (m *memStore) ListTransferRecords(_ context.Context, _, _ *time.Time, _ int) ([]*settlement.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*settlement.TransferRecord, 0, len(m.transfers))
	for i := range m.transfers {
		rec := m.transfers[i]
		out = append(out, &rec)
	}
	return out, nil
}

func autoTransferEngine(t *testing.T, store *memStore, gw transfer.Gateway, threshold string) *settlement.Engine {
	t.Helper()
	eng := settlement.NewEngine(store, gw, nil)
	err := eng.ConfigureAutoTransfer(settlement.AutoTransferConfig{
		Enabled:         true,
		ReceiverAddress: "0xabc1234567890def",
		Threshold:       dec(threshold),
	})
	if err != nil {
		t.Fatalf("ConfigureAutoTransfer failed: %v", err)
	}
	return eng
}

func TestProcessFeeDistribution(t *testing.T) {
	store := newMemStore()
	eng := settlement.NewEngine(store, transfer.NewStaticGateway(), nil)

	rec, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount:   dec("45.05"),
		Currency: "USDT",
		OrderID:  "order-12345678",
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	if rec.Status != settlement.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.TransferStatus != settlement.TransferStatusNotApplicable {
		t.Errorf("transfer status = %q, want not_applicable", rec.TransferStatus)
	}
	if rec.FeeType != settlement.FeeTypeTrading {
		t.Errorf("fee type = %q, want trading", rec.FeeType)
	}

	sum := decimal.Zero
	for _, share := range rec.Distribution {
		sum = sum.Add(share)
	}
	if !sum.Equal(dec("45.05")) {
		t.Errorf("distribution sum = %s, want 45.05", sum)
	}

	if store.snap == nil {
		t.Fatal("snapshot not persisted")
	}
	if !store.snap.Balance(ledger.AccountPlatform).Equal(dec("31.535")) {
		t.Errorf("persisted platform balance = %s, want 31.535", store.snap.Balance(ledger.AccountPlatform))
	}
	if _, ok := store.settlements[rec.SettlementID]; !ok {
		t.Error("settlement record not persisted")
	}
}

func TestProcessFeeValidation(t *testing.T) {
	eng := settlement.NewEngine(newMemStore(), transfer.NewStaticGateway(), nil)

	_, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("0"), Currency: "USDT", OrderID: "o1",
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("zero amount: err = %v, want ErrInvalidArgument", err)
	}

	_, err = eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("1"), OrderID: "o1",
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("missing currency: err = %v, want ErrInvalidArgument", err)
	}
}

func TestAutoTransferAccumulationAndFlush(t *testing.T) {
	store := newMemStore()
	gw := transfer.NewStaticGateway()
	eng := autoTransferEngine(t, store, gw, "10")

	var recs []*settlement.SettlementRecord
	for i := 0; i < 3; i++ {
		rec, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
			Amount:   dec("4"),
			Currency: "USDT",
			OrderID:  "order-abcdefgh",
		})
		if err != nil {
			t.Fatalf("ProcessFee #%d failed: %v", i+1, err)
		}
		recs = append(recs, rec)
		// Settlement ids embed a millisecond timestamp.
		time.Sleep(2 * time.Millisecond)
	}

	if !recs[0].AutoTransferPending.Equal(dec("4")) || recs[0].Status != settlement.StatusPendingTransfer {
		t.Errorf("record 1: pending = %s, status = %q", recs[0].AutoTransferPending, recs[0].Status)
	}
	if !recs[1].AutoTransferPending.Equal(dec("8")) || recs[1].Transferred {
		t.Errorf("record 2: pending = %s, transferred = %v", recs[1].AutoTransferPending, recs[1].Transferred)
	}

	// The third posting crossed the threshold: exactly one flush of 12.
	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(calls))
	}
	if !calls[0].Amount.Equal(dec("12")) {
		t.Errorf("flush amount = %s, want 12", calls[0].Amount)
	}

	if !recs[2].Transferred || recs[2].Status != settlement.StatusCompleted ||
		recs[2].TransferStatus != settlement.TransferStatusCompleted {
		t.Errorf("record 3 outcome: transferred=%v status=%q transfer_status=%q",
			recs[2].Transferred, recs[2].Status, recs[2].TransferStatus)
	}

	// Earlier contributors are not back-filled.
	for i := 0; i < 2; i++ {
		stored := store.settlements[recs[i].SettlementID]
		if stored.Transferred {
			t.Errorf("record %d retroactively marked transferred", i+1)
		}
		if stored.Status != settlement.StatusPendingTransfer {
			t.Errorf("record %d status = %q, want pending_transfer", i+1, stored.Status)
		}
	}

	if !eng.PendingPools()["USDT"].Equal(decimal.Zero) {
		t.Errorf("pool after flush = %s, want 0", eng.PendingPools()["USDT"])
	}
	if !store.snap.PendingFor("USDT").Equal(decimal.Zero) {
		t.Errorf("persisted pool after flush = %s, want 0", store.snap.PendingFor("USDT"))
	}

	if len(store.transfers) != 1 || store.transfers[0].Status != settlement.TransferStatusCompleted {
		t.Fatalf("transfer records = %+v, want one completed", store.transfers)
	}
	if store.transfers[0].TxHash == "" {
		t.Error("transfer record missing tx hash")
	}

	// The synthetic distribution routes the whole fee to the pool.
	if !recs[0].Distribution[ledger.DirectTransferKey].Equal(dec("4")) {
		t.Errorf("synthetic distribution = %v", recs[0].Distribution)
	}
}

func TestAutoTransferRecordDurableBeforeFlush(t *testing.T) {
	store := newMemStore()
	eng := autoTransferEngine(t, store, transfer.NewStaticGateway(), "10")

	rec, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("15"), Currency: "USDT", OrderID: "order-1",
	})
	if err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	// Two saves of the same record: pending_transfer first (before the
	// gateway call), completed after the flush.
	var saves []settlement.SettlementRecord
	for _, s := range store.settlementLog {
		if s.SettlementID == rec.SettlementID {
			saves = append(saves, s)
		}
	}
	if len(saves) != 2 {
		t.Fatalf("settlement saves = %d, want 2", len(saves))
	}
	if saves[0].Status != settlement.StatusPendingTransfer || saves[0].Transferred {
		t.Errorf("first save: status = %q, transferred = %v", saves[0].Status, saves[0].Transferred)
	}
	if saves[1].Status != settlement.StatusCompleted || !saves[1].Transferred {
		t.Errorf("second save: status = %q, transferred = %v", saves[1].Status, saves[1].Transferred)
	}
}

func TestAutoTransferFlushFailure(t *testing.T) {
	store := newMemStore()
	gw := transfer.NewStaticGateway()
	gw.Fail(true)
	eng := autoTransferEngine(t, store, gw, "10")

	rec, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("12"), Currency: "USDT", OrderID: "order-1",
	})
	if err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	if rec.Transferred {
		t.Error("record marked transferred after failed flush")
	}
	if rec.TransferStatus != settlement.TransferStatusFailed {
		t.Errorf("transfer status = %q, want failed", rec.TransferStatus)
	}
	if rec.Status != settlement.StatusPendingTransfer {
		t.Errorf("status = %q, want pending_transfer", rec.Status)
	}
	if !eng.PendingPools()["USDT"].Equal(dec("12")) {
		t.Errorf("pool after failed flush = %s, want 12", eng.PendingPools()["USDT"])
	}
	if len(store.transfers) != 1 || store.transfers[0].Status != settlement.TransferStatusFailed {
		t.Fatalf("transfer records = %+v, want one failed", store.transfers)
	}
	if store.transfers[0].Error == "" {
		t.Error("failed transfer record missing error message")
	}

	// The next posting re-crosses the threshold and retries with the
	// grown pool.
	gw.Fail(false)
	time.Sleep(2 * time.Millisecond)
	rec2, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("4"), Currency: "USDT", OrderID: "order-2",
	})
	if err != nil {
		t.Fatalf("ProcessFee retry failed: %v", err)
	}
	calls := gw.Calls()
	if len(calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(calls))
	}
	if !calls[1].Amount.Equal(dec("16")) {
		t.Errorf("retry flush amount = %s, want 16", calls[1].Amount)
	}
	if !rec2.Transferred {
		t.Error("retry record not marked transferred")
	}
	if !eng.PendingPools()["USDT"].Equal(decimal.Zero) {
		t.Errorf("pool after retry = %s, want 0", eng.PendingPools()["USDT"])
	}
}

func TestConcurrentPostingsSingleFlush(t *testing.T) {
	store := newMemStore()
	gw := transfer.NewStaticGateway()
	eng := autoTransferEngine(t, store, gw, "100")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
				Amount: dec("2"), Currency: "USDT", OrderID: "order-conc",
			})
			if err != nil {
				t.Errorf("ProcessFee failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// 50 postings of 2 = 100: exactly one crossing, so exactly one flush,
	// and pool + transferred == total posted.
	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(calls))
	}
	total := eng.PendingPools()["USDT"].Add(calls[0].Amount)
	if !total.Equal(dec("100")) {
		t.Errorf("pool %s + flushed %s != 100", eng.PendingPools()["USDT"], calls[0].Amount)
	}
}

func TestUpdateFeeDistribution(t *testing.T) {
	eng := settlement.NewEngine(newMemStore(), transfer.NewStaticGateway(), nil)

	// Sum 1.1 is outside tolerance and must leave the prior config intact.
	_, err := eng.UpdateFeeDistribution(ledger.DistributionConfig{
		ledger.AccountPlatform:           dec("0.5"),
		ledger.AccountLiquidityProviders: dec("0.3"),
		ledger.AccountRiskReserve:        dec("0.3"),
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if !eng.DistributionRatios()[ledger.AccountPlatform].Equal(dec("0.7")) {
		t.Errorf("prior config modified after rejected update")
	}

	res, err := eng.UpdateFeeDistribution(ledger.DistributionConfig{
		ledger.AccountPlatform:           dec("0.5"),
		ledger.AccountLiquidityProviders: dec("0.3"),
		ledger.AccountRiskReserve:        dec("0.2"),
	})
	if err != nil {
		t.Fatalf("valid update failed: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %q", res.Warning)
	}
	if !eng.DistributionRatios()[ledger.AccountPlatform].Equal(dec("0.5")) {
		t.Errorf("config not replaced")
	}
}

func TestWithdrawPlatformFee(t *testing.T) {
	store := newMemStore()
	eng := settlement.NewEngine(store, transfer.NewStaticGateway(), nil)

	// Seed the platform balance: 1000 * 0.7 = 700.
	if _, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("1000"), Currency: "USDT", OrderID: "order-1",
	}); err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	_, err := eng.WithdrawPlatformFee(context.Background(), dec("1000000"), "USDT", "treasury-wallet")
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("oversized withdrawal: err = %v, want ErrInvalidArgument", err)
	}

	res, err := eng.WithdrawPlatformFee(context.Background(), dec("200"), "USDT", "treasury-wallet")
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if !res.Balance.Equal(dec("500")) {
		t.Errorf("remaining balance = %s, want 500", res.Balance)
	}
	if len(store.withdrawals) != 1 || !store.withdrawals[0].Amount.Equal(dec("200")) {
		t.Fatalf("withdrawal records = %+v", store.withdrawals)
	}
	if !store.snap.Balance(ledger.AccountPlatform).Equal(dec("500")) {
		t.Errorf("persisted platform balance = %s, want 500", store.snap.Balance(ledger.AccountPlatform))
	}

	if _, err := eng.WithdrawPlatformFee(context.Background(), dec("0"), "USDT", "x"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("zero amount: err = %v, want ErrInvalidArgument", err)
	}
}

func TestDistributeLiquidityProviderFees(t *testing.T) {
	store := newMemStore()
	eng := settlement.NewEngine(store, transfer.NewStaticGateway(), nil)

	// Seed LP balance: 1000 * 0.2 = 200.
	if _, err := eng.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("1000"), Currency: "USDT", OrderID: "order-1",
	}); err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	_, err := eng.DistributeLiquidityProviderFees(context.Background(), []settlement.ProviderShare{
		{ProviderID: "lp-1", Ratio: dec("0.6")},
		{ProviderID: "lp-2", Ratio: dec("0.6")},
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("bad plan: err = %v, want ErrInvalidArgument", err)
	}

	res, err := eng.DistributeLiquidityProviderFees(context.Background(), []settlement.ProviderShare{
		{ProviderID: "lp-1", Ratio: dec("0.6")},
		{ProviderID: "lp-2", Ratio: dec("0.4")},
	})
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}
	if !res.TotalDistributed.Equal(dec("200")) {
		t.Errorf("total distributed = %s, want 200", res.TotalDistributed)
	}
	if !res.Amounts["lp-1"].Equal(dec("120")) || !res.Amounts["lp-2"].Equal(dec("80")) {
		t.Errorf("amounts = %v", res.Amounts)
	}
	if !store.snap.Balance(ledger.AccountLiquidityProviders).Equal(decimal.Zero) {
		t.Errorf("LP balance not zeroed: %s", store.snap.Balance(ledger.AccountLiquidityProviders))
	}
}

func TestDistributeLiquidityProviderFeesEmptyBalance(t *testing.T) {
	eng := settlement.NewEngine(newMemStore(), transfer.NewStaticGateway(), nil)

	_, err := eng.DistributeLiquidityProviderFees(context.Background(), []settlement.ProviderShare{
		{ProviderID: "lp-1", Ratio: dec("1")},
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("empty LP balance: err = %v, want ErrInvalidArgument", err)
	}
}

func TestAdminOpsWarnInAutoTransferMode(t *testing.T) {
	store := newMemStore()
	eng := autoTransferEngine(t, store, transfer.NewStaticGateway(), "10")

	distRes, err := eng.UpdateFeeDistribution(ledger.DefaultDistribution())
	if err != nil {
		t.Fatalf("UpdateFeeDistribution errored: %v", err)
	}
	if distRes.Warning == "" {
		t.Error("UpdateFeeDistribution: missing warning")
	}

	wdRes, err := eng.WithdrawPlatformFee(context.Background(), dec("1"), "USDT", "dest-wallet")
	if err != nil {
		t.Fatalf("WithdrawPlatformFee errored: %v", err)
	}
	if wdRes.Warning == "" {
		t.Error("WithdrawPlatformFee: missing warning")
	}
	if len(store.withdrawals) != 0 {
		t.Error("withdrawal recorded despite auto-transfer mode")
	}

	lpRes, err := eng.DistributeLiquidityProviderFees(context.Background(), []settlement.ProviderShare{
		{ProviderID: "lp-1", Ratio: dec("1")},
	})
	if err != nil {
		t.Fatalf("DistributeLiquidityProviderFees errored: %v", err)
	}
	if lpRes.Warning == "" {
		t.Error("DistributeLiquidityProviderFees: missing warning")
	}
}

func TestUpdateAutoTransferSettingsValidation(t *testing.T) {
	eng := settlement.NewEngine(newMemStore(), transfer.NewStaticGateway(), nil)

	err := eng.UpdateAutoTransferSettings(context.Background(), settlement.AutoTransferConfig{
		Enabled: true, ReceiverAddress: "short", Threshold: dec("10"),
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("short address: err = %v, want ErrInvalidArgument", err)
	}

	err = eng.UpdateAutoTransferSettings(context.Background(), settlement.AutoTransferConfig{
		Enabled: true, ReceiverAddress: "0xabc1234567890def", Threshold: dec("0"),
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("zero threshold: err = %v, want ErrInvalidArgument", err)
	}

	err = eng.UpdateAutoTransferSettings(context.Background(), settlement.AutoTransferConfig{
		Enabled: true, ReceiverAddress: "0xabc1234567890def", Threshold: dec("10"),
	})
	if err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
	if !eng.AutoTransferActive() {
		t.Error("auto-transfer not active after enable")
	}

	if err := eng.UpdateAutoTransferSettings(context.Background(), settlement.AutoTransferConfig{}); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if eng.AutoTransferActive() {
		t.Error("auto-transfer still active after disable")
	}
}

func TestRestore(t *testing.T) {
	store := newMemStore()

	first := autoTransferEngine(t, store, transfer.NewStaticGateway(), "10")
	if _, err := first.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("4"), Currency: "USDT", OrderID: "order-1",
	}); err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	// The restart configures the threshold again, as main does before
	// Restore; the snapshot supplies mode and receiver.
	second := autoTransferEngine(t, store, transfer.NewStaticGateway(), "10")
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !second.AutoTransferActive() {
		t.Error("restored engine lost auto-transfer mode")
	}
	if !second.PendingPools()["USDT"].Equal(dec("4")) {
		t.Errorf("restored pool = %s, want 4", second.PendingPools()["USDT"])
	}

	// Cold start is not an error.
	cold := settlement.NewEngine(newMemStore(), transfer.NewStaticGateway(), nil)
	if err := cold.Restore(context.Background()); err != nil {
		t.Fatalf("cold Restore failed: %v", err)
	}
}

func TestRestoreWithoutConfiguredThresholdStaysInDistribution(t *testing.T) {
	store := newMemStore()

	first := autoTransferEngine(t, store, transfer.NewStaticGateway(), "1000")
	if _, err := first.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("4"), Currency: "USDT", OrderID: "order-1",
	}); err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}

	// Restarted without auto-transfer configuration: the snapshot alone
	// must not re-enable the mode, since no flush threshold exists and a
	// zero threshold would flush every fee.
	gw := transfer.NewStaticGateway()
	second := settlement.NewEngine(store, gw, nil)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if second.AutoTransferActive() {
		t.Fatal("auto-transfer active after restore with no configured threshold")
	}

	rec, err := second.ProcessFee(context.Background(), settlement.FeeInput{
		Amount: dec("0.01"), Currency: "USDT", OrderID: "order-2",
	})
	if err != nil {
		t.Fatalf("ProcessFee failed: %v", err)
	}
	if rec.Status != settlement.StatusCompleted || rec.TransferStatus != settlement.TransferStatusNotApplicable {
		t.Errorf("record routed as %q/%q, want distribution outcome", rec.Status, rec.TransferStatus)
	}
	if len(gw.Calls()) != 0 {
		t.Errorf("gateway calls = %d, want 0", len(gw.Calls()))
	}
}
