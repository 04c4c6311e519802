package settlement

import (
	"context"
	"time"

	"feeledger/internal/ledger"
)

// Store is the persistence boundary of the settlement engine. The Postgres
// implementation lives in internal/store; tests use an in-memory fake.
//
// Implementations report infrastructure failures wrapped with
// apperr.ErrUnavailable.
type Store interface {
	// SaveSettlementRecord upserts a settlement record keyed by
	// settlement id. Re-saving an existing id updates only the transfer
	// outcome fields; everything else is written once.
	SaveSettlementRecord(ctx context.Context, rec *SettlementRecord) error

	// SaveTransferRecord inserts one transfer-attempt record.
	SaveTransferRecord(ctx context.Context, rec *TransferRecord) error

	// SaveWithdrawalRecord inserts one withdrawal audit record.
	SaveWithdrawalRecord(ctx context.Context, rec *WithdrawalRecord) error

	// SaveSnapshot overwrites the single current ledger snapshot row.
	// Writes whose Version is not strictly newer than the stored row
	// lose against it.
	SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error

	// LoadSnapshot returns the current snapshot, or (nil, nil) on cold
	// start.
	LoadSnapshot(ctx context.Context) (*ledger.Snapshot, error)

	// ListSettlementRecords returns records within [start, end], newest
	// first, capped at limit. Nil bounds are open.
	ListSettlementRecords(ctx context.Context, start, end *time.Time, limit int) ([]*SettlementRecord, error)

	// ListTransferRecords returns transfer records within [start, end],
	// newest first, capped at limit. Nil bounds are open.
	ListTransferRecords(ctx context.Context, start, end *time.Time, limit int) ([]*TransferRecord, error)
}
