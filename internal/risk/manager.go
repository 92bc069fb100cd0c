// Package risk implements the collateral/margin policy: the USD cost a
// single position ties up, the portfolio-wide sum, the collateral a pool
// makes available, the maximum tradeable quantity per product, and the
// admission decision for a candidate contract.
//
// The headroom shape mirrors a margin simulator: collect the equity the pool
// affords, subtract what is already committed, and clamp at zero. The
// configured safety multiplier (RiskMargin) is applied to every position
// margin, so it is already part of what gets subtracted.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/domain"
	"optionsengine/internal/pricing"
	"optionsengine/pkg/apperrors"
)

const (
	maxQuantityCap  = 1000
	yearSeconds     = 365 * 24 * 60 * 60
	quantityDP      = 8
	fallbackSigma   = 1.0 // conservative: used only when no IV resolves for an open position
	putFloorFactor  = 0.1
	callFloorFactor = 0.1
	callLossCapMult = 1.0 // max(S*1.0, S*0.1) loss cap, a policy choice, not further parameterized
)

// Config holds the risk policy tunables, filled from the service configuration.
type Config struct {
	CollateralRate decimal.Decimal // fraction of pool usable, (0,1]
	RiskMargin     decimal.Decimal // safety multiplier on position margin, >= 1
	RiskFreeRate   float64         // r for Black-Scholes
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		CollateralRate: decimal.NewFromFloat(0.5),
		RiskMargin:     decimal.NewFromFloat(1.2),
		RiskFreeRate:   0.05,
	}
}

// Manager derives collateral requirements and admission decisions.
type Manager struct {
	cfg Config
}

// NewManager constructs a risk Manager bound to the given policy configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// PositionMargin returns the USD collateral a single position of the given
// quantity ties up.
func (m *Manager) PositionMargin(side domain.Side, strike, spot, quantity decimal.Decimal, tYears, sigma float64) decimal.Decimal {
	pSide := toPricingSide(side)
	spotF, _ := spot.Float64()
	strikeF, _ := strike.Float64()

	pITM := pricing.ProbabilityITM(pSide, spotF, strikeF, tYears, m.cfg.RiskFreeRate, sigma)

	var lossGivenITM float64
	if side == domain.SidePut {
		loss := strikeF - spotF
		floor := strikeF * putFloorFactor
		if loss < floor {
			loss = floor
		}
		lossGivenITM = loss
	} else {
		loss := spotF * callLossCapMult
		floor := spotF * callFloorFactor
		if loss < floor {
			loss = floor
		}
		lossGivenITM = loss
	}

	margin := quantity.
		Mul(decimal.NewFromFloat(pITM)).
		Mul(decimal.NewFromFloat(lossGivenITM)).
		Mul(m.cfg.RiskMargin)
	return margin
}

// PortfolioMargin sums position margins over the non-expired contracts in
// portfolio, evaluated at `now` against the current snapshot.
func (m *Manager) PortfolioMargin(portfolio domain.Portfolio, now time.Time, snapshot domain.MarketSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, c := range portfolio {
		if !c.ExpiresAt.After(now) {
			continue
		}
		tYears := c.ExpiresAt.Sub(now).Seconds() / yearSeconds
		if tYears <= 0 {
			continue
		}
		sigma, ok := snapshot.IV(c.Strike, c.ExpiresAt)
		if !ok {
			sigma = fallbackSigma
		}
		total = total.Add(m.PositionMargin(c.Side, c.Strike, snapshot.Spot, c.Quantity, tYears, sigma))
	}
	return total
}

// AvailableCollateral is COLLATERAL_RATE * pool_btc * S - portfolio_margin,
// clamped at >= 0.
func (m *Manager) AvailableCollateral(poolBTC, spot decimal.Decimal, portfolio domain.Portfolio, now time.Time, snapshot domain.MarketSnapshot) decimal.Decimal {
	ceiling := m.cfg.CollateralRate.Mul(poolBTC).Mul(spot)
	used := m.PortfolioMargin(portfolio, now, snapshot)
	available := ceiling.Sub(used)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// MaxQuantity derives the maximum additional quantity admissible at a given
// (side, strike, T), clamped at >= 0 and at the 1000 BTC hard cap.
func (m *Manager) MaxQuantity(side domain.Side, strike, spot decimal.Decimal, tYears, sigma float64, poolBTC decimal.Decimal, portfolio domain.Portfolio, now time.Time, snapshot domain.MarketSnapshot) decimal.Decimal {
	unitMargin := m.PositionMargin(side, strike, spot, decimal.NewFromInt(1), tYears, sigma)
	if unitMargin.IsZero() {
		return decimal.NewFromInt(maxQuantityCap)
	}

	available := m.AvailableCollateral(poolBTC, spot, portfolio, now, snapshot)
	raw := available.Div(unitMargin)
	floored := raw.Truncate(quantityDP)
	if floored.IsNegative() {
		floored = decimal.Zero
	}
	capValue := decimal.NewFromInt(maxQuantityCap)
	if floored.GreaterThan(capValue) {
		return capValue
	}
	return floored
}

// Admits recomputes portfolio margin including the candidate and rejects if
// the total exceeds COLLATERAL_RATE * pool_btc * S.
func (m *Manager) Admits(portfolio domain.Portfolio, candidate domain.Contract, poolBTC decimal.Decimal, now time.Time, snapshot domain.MarketSnapshot) error {
	withCandidate := make(domain.Portfolio, 0, len(portfolio)+1)
	withCandidate = append(withCandidate, portfolio...)
	withCandidate = append(withCandidate, candidate)

	totalMargin := m.PortfolioMargin(withCandidate, now, snapshot)
	ceiling := m.cfg.CollateralRate.Mul(poolBTC).Mul(snapshot.Spot)

	if totalMargin.GreaterThan(ceiling) {
		required, _ := totalMargin.Float64()
		available, _ := ceiling.Float64()
		return &apperrors.InsufficientCollateralError{Required: required, Available: available}
	}
	return nil
}

func toPricingSide(s domain.Side) pricing.Side {
	if s == domain.SidePut {
		return pricing.Put
	}
	return pricing.Call
}
