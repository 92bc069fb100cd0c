// Package underwrite implements the single atomic admission decision for a
// candidate contract: snapshot the market, check collateral headroom and
// quantity limits, and persist the acceptance before anything else touches
// the portfolio. Every submission runs under one mutex so two concurrent
// submissions can never both be admitted against the same stale headroom.
package underwrite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/core"
	"optionsengine/internal/domain"
	"optionsengine/internal/pricing"
	"optionsengine/internal/risk"
	"optionsengine/pkg/apperrors"
	"optionsengine/pkg/telemetry"
)

// MarketSource supplies the coherent read a submission is evaluated against.
type MarketSource interface {
	Snapshot(ctx context.Context) (domain.MarketSnapshot, error)
	PoolBalanceBTC(ctx context.Context) (decimal.Decimal, error)
}

// ContractStore is the durable persistence surface a Gate depends on.
type ContractStore interface {
	ActiveContracts(ctx context.Context, now time.Time) (domain.Portfolio, error)
	InsertContract(ctx context.Context, c domain.Contract) (domain.Contract, error)
	AppendPremium(ctx context.Context, entry domain.PremiumHistoryEntry) error
}

// Candidate describes a proposed contract sale awaiting underwriting.
type Candidate struct {
	Side      domain.Side
	Strike    decimal.Decimal
	Quantity  decimal.Decimal
	ExpiresAt time.Time
}

// Gate is the sole path by which a contract becomes durable. Submit is
// serialized: only one submission is evaluated and persisted at a time.
type Gate struct {
	mu      sync.Mutex
	market  MarketSource
	store   ContractStore
	riskMgr *risk.Manager
	logger  core.ILogger
}

// NewGate constructs an underwriting Gate.
func NewGate(market MarketSource, store ContractStore, riskMgr *risk.Manager, logger core.ILogger) *Gate {
	return &Gate{market: market, store: store, riskMgr: riskMgr, logger: logger}
}

// Submit validates, prices, and, if admissible, persists candidate as a
// new Contract. It returns the persisted contract on acceptance, or an
// error wrapping apperrors.ErrInvalidInput, apperrors.ErrIvUnavailable,
// apperrors.ErrInsufficientCollateral, or apperrors.ErrQuantityExceedsLimit
// on rejection.
func (g *Gate) Submit(ctx context.Context, candidate Candidate) (domain.Contract, error) {
	if err := validate(candidate); err != nil {
		return domain.Contract{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot, err := g.market.Snapshot(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	poolBTC, err := g.market.PoolBalanceBTC(ctx)
	if err != nil {
		return domain.Contract{}, err
	}

	now := snapshot.Now
	if !candidate.ExpiresAt.After(now) {
		return domain.Contract{}, &apperrors.InvalidInputError{Field: "expires_at", Message: "must be in the future"}
	}

	portfolio, err := g.store.ActiveContracts(ctx, now)
	if err != nil {
		return domain.Contract{}, err
	}

	metrics := telemetry.GetGlobalMetrics()

	sigma, ok := snapshot.IV(candidate.Strike, candidate.ExpiresAt)
	if !ok {
		if metrics.IvUnavailableTotal != nil {
			metrics.IvUnavailableTotal.Add(ctx, 1)
		}
		metrics.RecordAdmission(ctx, false)
		return domain.Contract{}, apperrors.ErrIvUnavailable
	}

	tYears := candidate.ExpiresAt.Sub(now).Seconds() / secondsPerYear

	proposed := domain.Contract{
		Side:      candidate.Side,
		Strike:    candidate.Strike,
		Quantity:  candidate.Quantity,
		ExpiresAt: candidate.ExpiresAt,
		CreatedAt: now,
	}
	if err := g.riskMgr.Admits(portfolio, proposed, poolBTC, now, snapshot); err != nil {
		metrics.RecordAdmission(ctx, false)
		return domain.Contract{}, err
	}

	maxQty := g.riskMgr.MaxQuantity(candidate.Side, candidate.Strike, snapshot.Spot, tYears, sigma, poolBTC, portfolio, now, snapshot)
	if candidate.Quantity.GreaterThan(maxQty) {
		metrics.RecordAdmission(ctx, false)
		return domain.Contract{}, &apperrors.QuantityExceedsLimitError{Requested: candidate.Quantity.InexactFloat64(), MaxQuantity: maxQty.InexactFloat64()}
	}

	premiumUSD, err := g.priceCandidate(candidate, snapshot, tYears, sigma)
	if err != nil {
		return domain.Contract{}, err
	}
	spotF, _ := snapshot.Spot.Float64()
	proposed.Premium = decimal.NewFromFloat(premiumUSD / spotF)

	persisted, err := g.store.InsertContract(ctx, proposed)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("%w: %v", apperrors.ErrStorageError, err)
	}

	key := domain.ProductKey(persisted.Side, persisted.Strike, persisted.ExpiresAt)
	_ = g.store.AppendPremium(ctx, domain.PremiumHistoryEntry{
		ProductKey:  key,
		Side:        persisted.Side,
		StrikeCents: persisted.Strike.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		ExpiresAt:   persisted.ExpiresAt,
		Premium:     persisted.Premium,
		Timestamp:   now,
	})

	updatedPortfolio := append(portfolio, persisted)
	available := g.riskMgr.AvailableCollateral(poolBTC, snapshot.Spot, updatedPortfolio, now, snapshot)
	margin := g.riskMgr.PortfolioMargin(updatedPortfolio, now, snapshot)
	metrics.RecordAdmission(ctx, true)
	metrics.SetAvailableCollateral(available.InexactFloat64())
	metrics.SetPortfolioMargin(margin.InexactFloat64())

	g.logger.Info("contract accepted",
		"side", string(persisted.Side),
		"strike", persisted.Strike.String(),
		"quantity", persisted.Quantity.String(),
		"expires_at", persisted.ExpiresAt.Unix(),
	)

	return persisted, nil
}

const (
	secondsPerYear = 365 * 24 * 60 * 60
	maxQuantityCap = 1000
)

func validate(c Candidate) error {
	if c.Side != domain.SideCall && c.Side != domain.SidePut {
		return &apperrors.InvalidInputError{Field: "side", Message: "must be call or put"}
	}
	if !c.Strike.IsPositive() {
		return &apperrors.InvalidInputError{Field: "strike", Message: "must be positive"}
	}
	if !c.Quantity.IsPositive() {
		return &apperrors.InvalidInputError{Field: "quantity", Message: "must be positive"}
	}
	if c.Quantity.GreaterThan(decimal.NewFromInt(maxQuantityCap)) {
		return &apperrors.InvalidInputError{Field: "quantity", Message: "must not exceed 1000"}
	}
	return nil
}

func (g *Gate) priceCandidate(c Candidate, snapshot domain.MarketSnapshot, tYears, sigma float64) (float64, error) {
	side := pricing.Call
	if c.Side == domain.SidePut {
		side = pricing.Put
	}
	spotF, _ := snapshot.Spot.Float64()
	strikeF, _ := c.Strike.Float64()
	result, err := pricing.Price(side, spotF, strikeF, tYears, snapshot.RiskFreeRate, sigma)
	if err != nil {
		return 0, err
	}
	return result.PremiumUSD, nil
}
