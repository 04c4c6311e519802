package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/ledger"
	"feeledger/internal/report"
	"feeledger/internal/settlement"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeStore serves canned record sets to the generator.
type fakeStore struct {
	settlements []*settlement.SettlementRecord
	transfers   []*settlement.TransferRecord
}

func (f *fakeStore) SaveSettlementRecord(context.Context, *settlement.SettlementRecord) error {
	return nil
}
func (f *fakeStore) SaveTransferRecord(context.Context, *settlement.TransferRecord) error {
	return nil
}
func (f *fakeStore) SaveWithdrawalRecord(context.Context, *settlement.WithdrawalRecord) error {
	return nil
}
func (f *fakeStore) SaveSnapshot(context.Context, *ledger.Snapshot) error { return nil }
func (f *fakeStore) LoadSnapshot(context.Context) (*ledger.Snapshot, error) {
	return nil, nil
}
func (f *fakeStore) ListSettlementRecords(_ context.Context, _, _ *time.Time, _ int) ([]*settlement.SettlementRecord, error) {
	return f.settlements, nil
}
func (f *fakeStore) ListTransferRecords(_ context.Context, _, _ *time.Time, _ int) ([]*settlement.TransferRecord, error) {
	return f.transfers, nil
}

type fakeState struct {
	auto  bool
	pools map[string]decimal.Decimal
}

func (f *fakeState) AutoTransferActive() bool                  { return f.auto }
func (f *fakeState) PendingPools() map[string]decimal.Decimal { return f.pools }

func settledRecord(id, currency, feeType, amount string, transferred bool) *settlement.SettlementRecord {
	return &settlement.SettlementRecord{
		SettlementID: id,
		Timestamp:    time.Now().UTC(),
		FeeAmount:    dec(amount),
		Currency:     currency,
		FeeType:      feeType,
		Transferred:  transferred,
		Distribution: map[string]decimal.Decimal{
			ledger.AccountPlatform:           dec(amount).Mul(dec("0.7")),
			ledger.AccountLiquidityProviders: dec(amount).Mul(dec("0.2")),
			ledger.AccountRiskReserve:        dec(amount).Mul(dec("0.1")),
		},
	}
}

func TestGenerateDistributionReport(t *testing.T) {
	store := &fakeStore{
		settlements: []*settlement.SettlementRecord{
			settledRecord("s1", "USDT", "trading", "100", false),
			settledRecord("s2", "USDT", "trading", "50", false),
			settledRecord("s3", "USDC", "withdrawal", "10", false),
		},
	}
	gen := report.NewGenerator(store, &fakeState{})

	rep, err := gen.Generate(context.Background(), "daily",
		time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if rep.RecordCount != 3 {
		t.Errorf("record count = %d, want 3", rep.RecordCount)
	}
	if !rep.TotalFees.Equal(dec("160")) {
		t.Errorf("total fees = %s, want 160", rep.TotalFees)
	}
	if !rep.ByCurrency["USDT"].Equal(dec("150")) {
		t.Errorf("by currency USDT = %s, want 150", rep.ByCurrency["USDT"])
	}
	if !rep.ByFeeType["withdrawal"].Equal(dec("10")) {
		t.Errorf("by fee type withdrawal = %s, want 10", rep.ByFeeType["withdrawal"])
	}
	if rep.AutoTransfer {
		t.Error("distribution report flagged auto-transfer")
	}
	if !rep.DistributionSummary[ledger.AccountPlatform].Equal(dec("112")) {
		t.Errorf("distribution summary platform = %s, want 112", rep.DistributionSummary[ledger.AccountPlatform])
	}
	if rep.Transfers != nil {
		t.Error("distribution report carries transfer summary")
	}
}

func TestGenerateAutoTransferReport(t *testing.T) {
	store := &fakeStore{
		settlements: []*settlement.SettlementRecord{
			settledRecord("s1", "USDT", "trading", "4", false),
			settledRecord("s2", "USDT", "trading", "4", false),
			settledRecord("s3", "USDT", "trading", "4", true),
		},
		transfers: []*settlement.TransferRecord{
			{TransferID: "t1", Amount: dec("12"), Currency: "USDT", Status: settlement.TransferStatusCompleted},
			{TransferID: "t2", Amount: dec("9"), Currency: "USDT", Status: settlement.TransferStatusFailed},
		},
	}
	state := &fakeState{auto: true, pools: map[string]decimal.Decimal{"USDT": dec("3")}}
	gen := report.NewGenerator(store, state)

	rep, err := gen.Generate(context.Background(), "daily",
		time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !rep.AutoTransfer {
		t.Fatal("report not flagged auto-transfer")
	}
	if !rep.TransferredAmount.Equal(dec("4")) {
		t.Errorf("transferred amount = %s, want 4", rep.TransferredAmount)
	}
	if !rep.PendingAmount.Equal(dec("8")) {
		t.Errorf("pending amount = %s, want 8", rep.PendingAmount)
	}
	if !rep.CurrentPools["USDT"].Equal(dec("3")) {
		t.Errorf("current pool = %s, want 3", rep.CurrentPools["USDT"])
	}
	if rep.Transfers == nil {
		t.Fatal("missing transfer summary")
	}
	if rep.Transfers.Count != 2 || rep.Transfers.Succeeded != 1 || rep.Transfers.Failed != 1 {
		t.Errorf("transfer summary = %+v", rep.Transfers)
	}
	if !rep.Transfers.TotalTransferred.Equal(dec("12")) {
		t.Errorf("total transferred = %s, want 12", rep.Transfers.TotalTransferred)
	}
	if rep.DistributionSummary != nil {
		t.Error("auto-transfer report carries distribution summary")
	}
}

func TestGenerateEmptyPeriod(t *testing.T) {
	gen := report.NewGenerator(&fakeStore{}, &fakeState{})

	rep, err := gen.Generate(context.Background(), "daily",
		time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if rep.RecordCount != 0 || !rep.TotalFees.Equal(decimal.Zero) {
		t.Errorf("empty period report: count=%d total=%s", rep.RecordCount, rep.TotalFees)
	}
	if len(rep.ByCurrency) != 0 {
		t.Errorf("by currency not empty: %v", rep.ByCurrency)
	}
}

func TestResolveRange(t *testing.T) {
	start, end, err := report.ResolveRange("daily", nil, nil)
	if err != nil {
		t.Fatalf("daily failed: %v", err)
	}
	if d := end.Sub(start); d != 24*time.Hour {
		t.Errorf("daily span = %s, want 24h", d)
	}

	start, end, err = report.ResolveRange("weekly", nil, nil)
	if err != nil {
		t.Fatalf("weekly failed: %v", err)
	}
	if d := end.Sub(start); d != 7*24*time.Hour {
		t.Errorf("weekly span = %s, want 168h", d)
	}

	explicit := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start, _, err = report.ResolveRange("daily", &explicit, nil)
	if err != nil {
		t.Fatalf("explicit start failed: %v", err)
	}
	if !start.Equal(explicit) {
		t.Errorf("explicit start not honored: %s", start)
	}

	if _, _, err := report.ResolveRange("hourly", nil, nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("unknown period: err = %v, want ErrInvalidArgument", err)
	}

	future := time.Now().Add(time.Hour)
	if _, _, err := report.ResolveRange("daily", &future, nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("start after end: err = %v, want ErrInvalidArgument", err)
	}
}
