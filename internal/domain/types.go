// Package domain holds the data model shared across the market-data,
// pricing, risk, store, and underwriting components: Contract,
// PremiumHistoryEntry, OptionGridCell, MarketSnapshot, and Portfolio.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies whether a contract or grid cell is a call or a put.
type Side string

const (
	SideCall Side = "call"
	SidePut  Side = "put"
)

// Contract is an immutable record of an accepted sale. Once persisted, a
// contract is never mutated or deleted by the core.
type Contract struct {
	ID        int64
	Side      Side
	Strike    decimal.Decimal
	Quantity  decimal.Decimal
	ExpiresAt time.Time
	Premium   decimal.Decimal
	CreatedAt time.Time
}

// ProductKey derives the string key premium history is tracked under:
// "{side}-{strike_cents}-{expires_at}".
func ProductKey(side Side, strike decimal.Decimal, expiresAt time.Time) string {
	cents := strike.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return fmt.Sprintf("%s-%d-%d", side, cents, expiresAt.Unix())
}

// PremiumHistoryEntry is an append-only observation of the quoted premium
// for a product. Uniqueness is (ProductKey, Timestamp); repeated
// observations at the same timestamp are ignored by the store.
type PremiumHistoryEntry struct {
	ProductKey  string
	Side        Side
	StrikeCents int64
	ExpiresAt   time.Time
	Premium     decimal.Decimal
	Timestamp   time.Time
}

// ExpireLabel enumerates the five expiry buckets the grid quotes.
type ExpireLabel string

const (
	Expire1d ExpireLabel = "1d"
	Expire2d ExpireLabel = "2d"
	Expire3d ExpireLabel = "3d"
	Expire5d ExpireLabel = "5d"
	Expire7d ExpireLabel = "7d"
)

// ExpirySeconds maps each label to its duration in seconds.
var ExpirySeconds = map[ExpireLabel]int64{
	Expire1d: 86400,
	Expire2d: 172800,
	Expire3d: 259200,
	Expire5d: 432000,
	Expire7d: 604800,
}

// ExpiryOrder is the deterministic ordering grid generation emits expiries in.
var ExpiryOrder = []ExpireLabel{Expire1d, Expire2d, Expire3d, Expire5d, Expire7d}

// OptionGridCell is a transient, quotable value: one (side, strike, expiry)
// product annotated with its current premium, greeks, and risk-derived cap.
type OptionGridCell struct {
	Side        Side
	Strike      decimal.Decimal
	ExpireLabel ExpireLabel
	Premium     decimal.Decimal
	IV          float64
	Delta       float64
	MaxQuantity decimal.Decimal
}

// IVLookup resolves an annualized implied volatility for a (strike, expiry);
// ok is false when no value is available even after fallback.
type IVLookup func(strike decimal.Decimal, expiresAt time.Time) (sigma float64, ok bool)

// MarketSnapshot is a coherent read of the data the pricing and risk
// components need: the spot, an IV lookup closure, the pool balance, the
// risk-free rate, and the instant the read was taken.
type MarketSnapshot struct {
	Spot           decimal.Decimal
	IV             IVLookup
	PoolBalanceBTC decimal.Decimal
	RiskFreeRate   float64
	Now            time.Time
}

// Portfolio is the set of non-expired contracts at a point in time.
type Portfolio []Contract

// NonExpired filters a slice of contracts down to those with ExpiresAt > now.
func NonExpired(contracts []Contract, now time.Time) Portfolio {
	out := make(Portfolio, 0, len(contracts))
	for _, c := range contracts {
		if c.ExpiresAt.After(now) {
			out = append(out, c)
		}
	}
	return out
}
