// Package report aggregates persisted settlement and transfer records into
// period reports. It reads only the record stream, never the live ledger,
// except for the current pool state attached to auto-transfer reports.
package report

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/observability"
	"feeledger/internal/settlement"
)

// LedgerState is the slice of the settlement engine the generator needs.
type LedgerState interface {
	AutoTransferActive() bool
	PendingPools() map[string]decimal.Decimal
}

// TransferSummary aggregates the transfer attempts of a period.
type TransferSummary struct {
	Count            int             `json:"count"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	TotalTransferred decimal.Decimal `json:"total_transferred"`
}

// Report is one period's aggregation. Mode-specific sections are nil when
// the other mode is active.
type Report struct {
	Period      string    `json:"period"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`

	TotalFees  decimal.Decimal            `json:"total_fee_amount"`
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
	ByFeeType  map[string]decimal.Decimal `json:"by_fee_type"`

	AutoTransfer      bool                       `json:"auto_transfer_mode"`
	TransferredAmount decimal.Decimal            `json:"transferred_amount"`
	PendingAmount     decimal.Decimal            `json:"pending_amount"`
	CurrentPools      map[string]decimal.Decimal `json:"current_pools,omitempty"`
	Transfers         *TransferSummary           `json:"transfer_summary,omitempty"`

	DistributionSummary map[string]decimal.Decimal `json:"distribution_summary,omitempty"`
}

// Generator builds reports from the record store.
type Generator struct {
	store settlement.Store
	state LedgerState
	log   zerolog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(store settlement.Store, state LedgerState) *Generator {
	return &Generator{
		store: store,
		state: state,
		log:   observability.NewLogger("report"),
	}
}

// ResolveRange turns a period name and optional explicit bounds into a
// concrete [start, end] window. Missing end defaults to now; missing start
// defaults to end minus the period length.
func ResolveRange(period string, start, end *time.Time) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if end != nil {
		to = *end
	}
	if start != nil {
		if start.After(to) {
			return time.Time{}, time.Time{}, apperr.InvalidArgument("start %s is after end %s", start, to)
		}
		return *start, to, nil
	}

	var span time.Duration
	switch period {
	case "", "daily":
		span = 24 * time.Hour
	case "weekly":
		span = 7 * 24 * time.Hour
	case "monthly":
		span = 30 * 24 * time.Hour
	default:
		return time.Time{}, time.Time{}, apperr.InvalidArgument("unknown report period %q", period)
	}
	return to.Add(-span), to, nil
}

// Generate aggregates the settlement records of [start, end]. An empty
// period yields a zero-valued report, not an error.
func (g *Generator) Generate(ctx context.Context, period string, start, end time.Time) (*Report, error) {
	records, err := g.store.ListSettlementRecords(ctx, &start, &end, allRecords)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Period:      period,
		StartTime:   start,
		EndTime:     end,
		RecordCount: len(records),
		TotalFees:   decimal.Zero,
		ByCurrency:  make(map[string]decimal.Decimal),
		ByFeeType:   make(map[string]decimal.Decimal),
	}

	for _, rec := range records {
		rep.TotalFees = rep.TotalFees.Add(rec.FeeAmount)
		rep.ByCurrency[rec.Currency] = addTo(rep.ByCurrency, rec.Currency, rec.FeeAmount)
		rep.ByFeeType[rec.FeeType] = addTo(rep.ByFeeType, rec.FeeType, rec.FeeAmount)
	}

	if g.state.AutoTransferActive() {
		g.fillAutoTransfer(ctx, rep, records, start, end)
	} else {
		fillDistribution(rep, records)
	}

	g.log.Debug().
		Str("period", period).
		Int("records", rep.RecordCount).
		Str("total", rep.TotalFees.String()).
		Msg("report generated")
	return rep, nil
}

func (g *Generator) fillAutoTransfer(ctx context.Context, rep *Report, records []*settlement.SettlementRecord, start, end time.Time) {
	rep.AutoTransfer = true
	rep.TransferredAmount = decimal.Zero
	rep.PendingAmount = decimal.Zero
	for _, rec := range records {
		if rec.Transferred {
			rep.TransferredAmount = rep.TransferredAmount.Add(rec.FeeAmount)
		} else {
			rep.PendingAmount = rep.PendingAmount.Add(rec.FeeAmount)
		}
	}
	rep.CurrentPools = g.state.PendingPools()

	summary := &TransferSummary{TotalTransferred: decimal.Zero}
	transfers, err := g.store.ListTransferRecords(ctx, &start, &end, allRecords)
	if err != nil {
		// The report is still useful without the transfer section.
		g.log.Error().Err(err).Msg("list transfer records for report")
		rep.Transfers = summary
		return
	}
	for _, tr := range transfers {
		summary.Count++
		switch tr.Status {
		case settlement.TransferStatusCompleted:
			summary.Succeeded++
			summary.TotalTransferred = summary.TotalTransferred.Add(tr.Amount)
		case settlement.TransferStatusFailed:
			summary.Failed++
		}
	}
	rep.Transfers = summary
}

func fillDistribution(rep *Report, records []*settlement.SettlementRecord) {
	summary := make(map[string]decimal.Decimal)
	for _, rec := range records {
		for account, share := range rec.Distribution {
			summary[account] = addTo(summary, account, share)
		}
	}
	rep.DistributionSummary = summary
}

// allRecords is the listing cap for report queries. Reports aggregate
// whole periods, so the cap is far above the interactive default.
const allRecords = 100_000

func addTo(m map[string]decimal.Decimal, key string, amount decimal.Decimal) decimal.Decimal {
	if cur, ok := m[key]; ok {
		return cur.Add(amount)
	}
	return amount
}
