package fee

import (
	"sync"

	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
)

// Tier is a user subscription level. Higher tiers pay discounted fees.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// PlatformType identifies the venue class a trade executed on.
type PlatformType string

const (
	PlatformCEX PlatformType = "CEX"
	PlatformDEX PlatformType = "DEX"
	PlatformP2P PlatformType = "P2P"
)

// tierDiscounts are multiplicative discounts applied to both fee legs.
var tierDiscounts = map[Tier]decimal.Decimal{
	TierBasic:    decimal.NewFromFloat(1.0),
	TierSilver:   decimal.NewFromFloat(0.9),
	TierGold:     decimal.NewFromFloat(0.75),
	TierPlatinum: decimal.NewFromFloat(0.5),
}

// platformMultipliers scale the slippage leg per venue class. DEX trades pay
// a premium for on-chain execution, P2P trades a discount.
var platformMultipliers = map[PlatformType]decimal.Decimal{
	PlatformCEX: decimal.NewFromFloat(1.0),
	PlatformDEX: decimal.NewFromFloat(1.5),
	PlatformP2P: decimal.NewFromFloat(0.8),
}

// TierDiscount returns the discount multiplier for a tier.
func TierDiscount(t Tier) (decimal.Decimal, error) {
	d, ok := tierDiscounts[t]
	if !ok {
		return decimal.Decimal{}, apperr.InvalidArgument("unknown tier %q", t)
	}
	return d, nil
}

// PlatformMultiplier returns the slippage multiplier for a platform type.
func PlatformMultiplier(p PlatformType) (decimal.Decimal, error) {
	m, ok := platformMultipliers[p]
	if !ok {
		return decimal.Decimal{}, apperr.InvalidArgument("unknown platform type %q", p)
	}
	return m, nil
}

// Config holds the mutable process-wide pricing parameters. Reads vastly
// outnumber writes, so it is guarded by an RWMutex.
type Config struct {
	mu               sync.RWMutex
	baseSlippageRate decimal.Decimal
	flatRoutingFee   decimal.Decimal
}

// NewConfig creates a Config with explicit base rates.
func NewConfig(baseSlippageRate, flatRoutingFee decimal.Decimal) *Config {
	return &Config{
		baseSlippageRate: baseSlippageRate,
		flatRoutingFee:   flatRoutingFee,
	}
}

// Stock pricing parameters: 0.1% slippage, 0.05 flat routing.
var (
	DefaultBaseSlippageRate = decimal.NewFromFloat(0.001)
	DefaultFlatRoutingFee   = decimal.NewFromFloat(0.05)
)

// DefaultConfig returns a Config with the stock pricing parameters.
func DefaultConfig() *Config {
	return NewConfig(DefaultBaseSlippageRate, DefaultFlatRoutingFee)
}

// BaseSlippageRate returns the configured base slippage rate.
func (c *Config) BaseSlippageRate() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseSlippageRate
}

// FlatRoutingFee returns the configured flat routing fee amount.
func (c *Config) FlatRoutingFee() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flatRoutingFee
}

// Update replaces the base rates. Nil fields keep their current value.
func (c *Config) Update(baseSlippageRate, flatRoutingFee *decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseSlippageRate != nil {
		if baseSlippageRate.IsNegative() {
			return apperr.InvalidArgument("base slippage rate must not be negative")
		}
		c.baseSlippageRate = *baseSlippageRate
	}
	if flatRoutingFee != nil {
		if flatRoutingFee.IsNegative() {
			return apperr.InvalidArgument("flat routing fee must not be negative")
		}
		c.flatRoutingFee = *flatRoutingFee
	}
	return nil
}

// View is a read-only snapshot of the full pricing configuration,
// including the fixed tier and platform tables.
type View struct {
	BaseSlippageRate    decimal.Decimal                 `json:"base_slippage_rate"`
	FlatRoutingFee      decimal.Decimal                 `json:"flat_routing_fee"`
	TierDiscounts       map[Tier]decimal.Decimal        `json:"tier_discounts"`
	PlatformMultipliers map[PlatformType]decimal.Decimal `json:"platform_multipliers"`
}

// View returns the current configuration snapshot.
func (c *Config) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tiers := make(map[Tier]decimal.Decimal, len(tierDiscounts))
	for k, v := range tierDiscounts {
		tiers[k] = v
	}
	platforms := make(map[PlatformType]decimal.Decimal, len(platformMultipliers))
	for k, v := range platformMultipliers {
		platforms[k] = v
	}
	return View{
		BaseSlippageRate:    c.baseSlippageRate,
		FlatRoutingFee:      c.flatRoutingFee,
		TierDiscounts:       tiers,
		PlatformMultipliers: platforms,
	}
}
