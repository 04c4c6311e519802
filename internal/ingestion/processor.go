package ingestion

import (
	"context"
	"log"
	"time"

	"feeledger/internal/apperr"
	"feeledger/internal/fee"
	"feeledger/internal/observability"
	"feeledger/internal/settlement"
)

// Processor drains the raw event channel: each order fill is priced by the
// calculator and its realized fee settled by the engine.
//
// ACK discipline: malformed or invalid events are acknowledged and dropped
// (redelivery cannot fix them); infrastructure failures are NAKed so
// JetStream redelivers, up to the consumer's max_deliver.
type Processor struct {
	calc    *fee.Calculator
	engine  *settlement.Engine
	events  <-chan RawEvent
	outbox  chan<- SettledEvent
	metrics *observability.Metrics
}

// NewProcessor creates a processor. outbox may be nil when no outbound
// publisher is wired.
func NewProcessor(calc *fee.Calculator, engine *settlement.Engine, events <-chan RawEvent, outbox chan<- SettledEvent, metrics *observability.Metrics) *Processor {
	return &Processor{
		calc:    calc,
		engine:  engine,
		events:  events,
		outbox:  outbox,
		metrics: metrics,
	}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.events:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawEvent) {
	if p.metrics != nil {
		p.metrics.EventsReceived.WithLabelValues(raw.Subject).Inc()
	}

	evt, err := ParseOrderFilled(raw.Data)
	if err != nil {
		log.Printf("WARN: dropping malformed event on %s: %v", raw.Subject, err)
		p.countRejected(raw.Subject, "parse")
		raw.AckFunc()
		return
	}

	quoteStart := time.Now()
	quote, err := p.calc.Quote(fee.QuoteRequest{
		Symbol:       evt.Symbol,
		Amount:       evt.Amount,
		Price:        evt.Price,
		Platform:     evt.Platform,
		Tier:         evt.Tier,
		SlippageRate: evt.SlippageRate,
		RoutingFee:   evt.RoutingFee,
	})
	if err != nil {
		log.Printf("WARN: dropping unquotable order %s: %v", evt.OrderID, err)
		if p.metrics != nil {
			p.metrics.QuotesRejected.WithLabelValues("validation").Inc()
		}
		p.countRejected(raw.Subject, "quote")
		raw.AckFunc()
		return
	}
	if p.metrics != nil {
		p.metrics.QuotesIssued.WithLabelValues(string(evt.Platform), string(evt.Tier)).Inc()
		p.metrics.QuoteDuration.Observe(time.Since(quoteStart).Seconds())
	}

	rec, err := p.engine.ProcessFee(ctx, settlement.FeeInput{
		Amount:   quote.TotalFee,
		Currency: fee.QuoteToken(evt.Symbol),
		OrderID:  evt.OrderID,
		UserID:   evt.UserID,
	})
	if err != nil {
		if apperr.IsUnavailable(err) {
			log.Printf("WARN: settlement unavailable for order %s, will redeliver: %v", evt.OrderID, err)
			p.countRejected(raw.Subject, "unavailable")
			raw.NakFunc()
			return
		}
		log.Printf("WARN: dropping unsettleable order %s: %v", evt.OrderID, err)
		p.countRejected(raw.Subject, "invalid")
		raw.AckFunc()
		return
	}

	raw.AckFunc()

	if p.outbox != nil {
		select {
		case p.outbox <- SettledEvent{
			SettlementID: rec.SettlementID,
			OrderID:      rec.OrderID,
			Currency:     rec.Currency,
			FeeAmount:    rec.FeeAmount,
			Status:       rec.Status,
			Transferred:  rec.Transferred,
			Timestamp:    rec.Timestamp,
		}:
		default:
			// Outbound publishing is best-effort; never block settlement.
		}
	}
}

func (p *Processor) countRejected(subject, reason string) {
	if p.metrics == nil {
		return
	}
	p.metrics.EventsRejected.WithLabelValues(subject, reason).Inc()
}
