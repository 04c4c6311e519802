// Package store is the Postgres persistence layer: append-only settlement,
// transfer, and withdrawal records plus the single overwritten ledger
// snapshot row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/ledger"
	"feeledger/internal/observability"
	"feeledger/internal/settlement"
)

// DefaultListLimit caps record listings when the caller passes no limit.
const DefaultListLimit = 100

// Postgres implements settlement.Store on database/sql with lib/pq.
type Postgres struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewPostgres creates a store over an open connection pool.
func NewPostgres(db *sql.DB, metrics *observability.Metrics) *Postgres {
	return &Postgres{
		db:      db,
		log:     observability.NewLogger("store"),
		metrics: metrics,
	}
}

// SaveSettlementRecord upserts one settlement record. The insert wins once;
// conflicts update only the transfer-outcome fields, which is the sole
// mutation a flush is allowed to make.
func (p *Postgres) SaveSettlementRecord(ctx context.Context, rec *settlement.SettlementRecord) error {
	start := time.Now()
	dist, err := json.Marshal(rec.Distribution)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO settlement_records
			(settlement_id, ts, order_id, user_id, fee_amount, currency, fee_type,
			 distribution, receiver_address, auto_transfer_pending, transferred,
			 transfer_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (settlement_id) DO UPDATE SET
			transferred     = EXCLUDED.transferred,
			transfer_status = EXCLUDED.transfer_status,
			status          = EXCLUDED.status
	`, rec.SettlementID, rec.Timestamp, rec.OrderID, rec.UserID, rec.FeeAmount,
		rec.Currency, rec.FeeType, dist, rec.ReceiverAddress,
		rec.AutoTransferPending, rec.Transferred, rec.TransferStatus, rec.Status)
	if err != nil {
		p.countError("settlement_record")
		return apperr.Unavailable("insert settlement record", err)
	}
	p.observeWrite("settlement_record", start)
	return nil
}

// SaveTransferRecord inserts one transfer-attempt record.
func (p *Postgres) SaveTransferRecord(ctx context.Context, rec *settlement.TransferRecord) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_records
			(transfer_id, ts, amount, currency, destination, status, tx_hash,
			 network_fee, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transfer_id) DO NOTHING
	`, rec.TransferID, rec.Timestamp, rec.Amount, rec.Currency, rec.Destination,
		rec.Status, rec.TxHash, rec.NetworkFee, rec.Error)
	if err != nil {
		p.countError("transfer_record")
		return apperr.Unavailable("insert transfer record", err)
	}
	p.observeWrite("transfer_record", start)
	return nil
}

// SaveWithdrawalRecord inserts one withdrawal audit record.
func (p *Postgres) SaveWithdrawalRecord(ctx context.Context, rec *settlement.WithdrawalRecord) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_records
			(withdrawal_id, ts, amount, currency, destination)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (withdrawal_id) DO NOTHING
	`, rec.WithdrawalID, rec.Timestamp, rec.Amount, rec.Currency, rec.Destination)
	if err != nil {
		p.countError("withdrawal_record")
		return apperr.Unavailable("insert withdrawal record", err)
	}
	p.observeWrite("withdrawal_record", start)
	return nil
}

// SaveSnapshot overwrites the singleton ledger snapshot row. A write whose
// version is not strictly newer than the stored row is dropped, so late
// writers cannot roll the snapshot back even on a wall-clock tie.
func (p *Postgres) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshot (id, data, version, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = $1, version = $2, updated_at = $3
		WHERE ledger_snapshot.version < EXCLUDED.version
	`, data, snap.Version, snap.UpdatedAt)
	if err != nil {
		p.countError("snapshot")
		return apperr.Unavailable("upsert ledger snapshot", err)
	}
	if p.metrics != nil {
		p.metrics.SnapshotWrites.Inc()
	}
	return nil
}

// LoadSnapshot returns the current snapshot, or (nil, nil) on cold start.
func (p *Postgres) LoadSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM ledger_snapshot WHERE id = 1`,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("load ledger snapshot", err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Balances == nil {
		snap.Balances = make(map[string]decimal.Decimal)
	}
	if snap.Pending == nil {
		snap.Pending = make(map[string]decimal.Decimal)
	}
	return &snap, nil
}

// ListSettlementRecords returns settlement records within [start, end],
// newest first.
func (p *Postgres) ListSettlementRecords(ctx context.Context, start, end *time.Time, limit int) ([]*settlement.SettlementRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT settlement_id, ts, order_id, user_id, fee_amount, currency,
		       fee_type, distribution, receiver_address, auto_transfer_pending,
		       transferred, transfer_status, status
		FROM settlement_records
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if start != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *start)
		argIdx++
	}
	if end != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *end)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Unavailable("query settlement records", err)
	}
	defer rows.Close()

	var out []*settlement.SettlementRecord
	for rows.Next() {
		var rec settlement.SettlementRecord
		var dist []byte
		if err := rows.Scan(
			&rec.SettlementID, &rec.Timestamp, &rec.OrderID, &rec.UserID,
			&rec.FeeAmount, &rec.Currency, &rec.FeeType, &dist,
			&rec.ReceiverAddress, &rec.AutoTransferPending, &rec.Transferred,
			&rec.TransferStatus, &rec.Status,
		); err != nil {
			return nil, apperr.Unavailable("scan settlement record", err)
		}
		if err := json.Unmarshal(dist, &rec.Distribution); err != nil {
			return nil, fmt.Errorf("unmarshal distribution for %s: %w", rec.SettlementID, err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterate settlement records", err)
	}
	return out, nil
}

// ListTransferRecords returns transfer records within [start, end], newest
// first.
func (p *Postgres) ListTransferRecords(ctx context.Context, start, end *time.Time, limit int) ([]*settlement.TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT transfer_id, ts, amount, currency, destination, status,
		       tx_hash, network_fee, error
		FROM transfer_records
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if start != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *start)
		argIdx++
	}
	if end != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *end)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Unavailable("query transfer records", err)
	}
	defer rows.Close()

	var out []*settlement.TransferRecord
	for rows.Next() {
		var rec settlement.TransferRecord
		if err := rows.Scan(
			&rec.TransferID, &rec.Timestamp, &rec.Amount, &rec.Currency,
			&rec.Destination, &rec.Status, &rec.TxHash, &rec.NetworkFee,
			&rec.Error,
		); err != nil {
			return nil, apperr.Unavailable("scan transfer record", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterate transfer records", err)
	}
	return out, nil
}

func (p *Postgres) countError(kind string) {
	if p.metrics == nil {
		return
	}
	p.metrics.PersistErrors.WithLabelValues(kind).Inc()
}

func (p *Postgres) observeWrite(kind string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordsWritten.WithLabelValues(kind).Inc()
	p.metrics.PersistDuration.Observe(time.Since(start).Seconds())
}
