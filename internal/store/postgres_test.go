package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"feeledger/internal/ledger"
	"feeledger/internal/settlement"
	"feeledger/internal/store"
	"feeledger/internal/testutil"
)

func setupStore(t *testing.T) *store.Postgres {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := store.NewMigrator(db, "../../migrations")
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return store.NewPostgres(db, nil)
}

func TestSettlementRecordRoundTrip(t *testing.T) {
	pg := setupStore(t)
	ctx := context.Background()

	rec := &settlement.SettlementRecord{
		SettlementID: "stl_1700000000000_itest001",
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		OrderID:      "ord-itest-1",
		UserID:       "u-1",
		FeeAmount:    decimal.RequireFromString("45.05"),
		Currency:     "USDT",
		FeeType:      settlement.FeeTypeTrading,
		Distribution: map[string]decimal.Decimal{
			ledger.AccountPlatform:           decimal.RequireFromString("31.535"),
			ledger.AccountLiquidityProviders: decimal.RequireFromString("9.01"),
			ledger.AccountRiskReserve:        decimal.RequireFromString("4.505"),
		},
		TransferStatus: settlement.TransferStatusNotApplicable,
		Status:         settlement.StatusCompleted,
	}
	if err := pg.SaveSettlementRecord(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	records, err := pg.ListSettlementRecords(ctx, nil, nil, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	got := records[0]
	if got.SettlementID != rec.SettlementID {
		t.Errorf("settlement id = %q", got.SettlementID)
	}
	if !got.FeeAmount.Equal(rec.FeeAmount) {
		t.Errorf("fee amount = %s, want %s", got.FeeAmount, rec.FeeAmount)
	}
	if !got.Distribution[ledger.AccountPlatform].Equal(rec.Distribution[ledger.AccountPlatform]) {
		t.Errorf("platform share = %s", got.Distribution[ledger.AccountPlatform])
	}
}

func TestSettlementRecordUpsertUpdatesTransferOutcome(t *testing.T) {
	pg := setupStore(t)
	ctx := context.Background()

	rec := &settlement.SettlementRecord{
		SettlementID:        "stl_1700000000000_itest002",
		Timestamp:           time.Now().UTC(),
		OrderID:             "ord-itest-2",
		FeeAmount:           decimal.RequireFromString("12"),
		Currency:            "USDT",
		FeeType:             settlement.FeeTypeTrading,
		Distribution:        map[string]decimal.Decimal{ledger.DirectTransferKey: decimal.RequireFromString("12")},
		ReceiverAddress:     "0xabc1234567890def",
		AutoTransferPending: decimal.RequireFromString("12"),
		TransferStatus:      settlement.TransferStatusPending,
		Status:              settlement.StatusPendingTransfer,
	}
	if err := pg.SaveSettlementRecord(ctx, rec); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	rec.Transferred = true
	rec.TransferStatus = settlement.TransferStatusCompleted
	rec.Status = settlement.StatusCompleted
	if err := pg.SaveSettlementRecord(ctx, rec); err != nil {
		t.Fatalf("save completed: %v", err)
	}

	records, err := pg.ListSettlementRecords(ctx, nil, nil, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 after upsert", len(records))
	}
	if records[0].TransferStatus != settlement.TransferStatusCompleted || !records[0].Transferred {
		t.Errorf("transfer outcome not updated: %+v", records[0])
	}
}

func TestSnapshotStaleWriteGuard(t *testing.T) {
	pg := setupStore(t)
	ctx := context.Background()

	fresh := ledger.NewSnapshot()
	fresh.Balances[ledger.AccountPlatform] = decimal.RequireFromString("70")
	fresh.Version = 2
	fresh.UpdatedAt = time.Now().UTC()
	if err := pg.SaveSnapshot(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	// An older clone loses even with a later wall-clock timestamp.
	stale := ledger.NewSnapshot()
	stale.Version = 1
	stale.UpdatedAt = time.Now().UTC().Add(time.Minute)
	if err := pg.SaveSnapshot(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	loaded, err := pg.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("snapshot missing")
	}
	if !loaded.Balances[ledger.AccountPlatform].Equal(decimal.RequireFromString("70")) {
		t.Errorf("stale write overwrote snapshot: %+v", loaded.Balances)
	}
}

func TestListTimeBoundsAndLimit(t *testing.T) {
	pg := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := &settlement.SettlementRecord{
			SettlementID:   newTestID(i),
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			OrderID:        "ord-window",
			FeeAmount:      decimal.RequireFromString("1"),
			Currency:       "USDT",
			FeeType:        settlement.FeeTypeTrading,
			TransferStatus: settlement.TransferStatusNotApplicable,
			Status:         settlement.StatusCompleted,
		}
		if err := pg.SaveSettlementRecord(ctx, rec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	start := base.Add(90 * time.Second)
	records, err := pg.ListSettlementRecords(ctx, &start, nil, 0)
	if err != nil {
		t.Fatalf("list with start: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("records after start = %d, want 3", len(records))
	}

	records, err = pg.ListSettlementRecords(ctx, nil, nil, 2)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("limited records = %d, want 2", len(records))
	}
}

func newTestID(i int) string {
	return time.Now().UTC().Format("stl_20060102150405") + string(rune('a'+i))
}
