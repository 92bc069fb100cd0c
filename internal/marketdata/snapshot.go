package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/domain"
)

// Fuser composes the spot, IV, and pool sources into the coherent
// MarketSnapshot the pricing, risk, and grid components read. Callers
// requiring a snapshot+pool pair together (the underwriting gate) should
// call both Snapshot and PoolBalanceBTC from within their own lock so the
// two reads are evaluated against the same instant in the caller's sense of
// "now"; Fuser itself does not hold a cross-source lock.
type Fuser struct {
	spot         *SpotSource
	iv           *IVSource
	pool         *PoolSource
	riskFreeRate float64
}

// NewFuser constructs a Fuser over the given sources.
func NewFuser(spot *SpotSource, iv *IVSource, pool *PoolSource, riskFreeRate float64) *Fuser {
	return &Fuser{spot: spot, iv: iv, pool: pool, riskFreeRate: riskFreeRate}
}

// Snapshot reads the current spot price and returns a MarketSnapshot bound
// to an IV lookup against the in-memory surface.
func (f *Fuser) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	spot, err := f.spot.Get(ctx)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	return domain.MarketSnapshot{
		Spot:         spot,
		IV:           f.iv.Lookup,
		RiskFreeRate: f.riskFreeRate,
		Now:          time.Now(),
	}, nil
}

// PoolBalanceBTC fetches the current pool balance.
func (f *Fuser) PoolBalanceBTC(ctx context.Context) (decimal.Decimal, error) {
	return f.pool.BalanceBTC(ctx)
}
