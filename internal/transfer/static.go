package transfer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
)

var errSimulatedFailure = errors.New("transfer executor declined")

// StaticGateway simulates transfers in-process: every call succeeds with a
// generated transaction reference and a fixed network fee. Used when no
// transfer executor is deployed, and in tests, where Fail can force the
// failure path.
type StaticGateway struct {
	mu    sync.Mutex
	fail  bool
	calls []Call
}

// Call records one Transfer invocation for test inspection.
type Call struct {
	Amount      decimal.Decimal
	Currency    string
	Destination string
}

// NewStaticGateway creates a gateway that always succeeds.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{}
}

// Fail toggles whether subsequent transfers fail.
func (g *StaticGateway) Fail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

// Calls returns all recorded invocations.
func (g *StaticGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Transfer simulates an external transfer.
func (g *StaticGateway) Transfer(ctx context.Context, amount decimal.Decimal, currency, destination string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.calls = append(g.calls, Call{Amount: amount, Currency: currency, Destination: destination})
	fail := g.fail
	g.mu.Unlock()

	if fail {
		return nil, apperr.Unavailable("simulated transfer", errSimulatedFailure)
	}
	return &Result{
		TxHash:     "0x" + uuid.NewString(),
		NetworkFee: decimal.NewFromFloat(0.001),
	}, nil
}
