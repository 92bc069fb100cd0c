// Package grid builds the quotable option grid: 11 strikes x 5 expiries x 2
// sides around the current spot, pricing each cell via the Black-Scholes
// kernel and annotating it with a risk-derived max_quantity. Cell pricing
// fans out across a bounded worker pool since the 110 cells are independent
// pure computations.
package grid

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/core"
	"optionsengine/internal/domain"
	"optionsengine/internal/pricing"
	"optionsengine/internal/risk"
	"optionsengine/pkg/concurrency"
)

const (
	strikeStep  = 5000
	strikeCount = 11 // i in {-5..+5}
	strikeLow   = -5
	strikeHigh  = 5
)

// Generator builds OptionGridCells from a MarketSnapshot.
type Generator struct {
	riskMgr *risk.Manager
	pool    *concurrency.WorkerPool
}

// NewGenerator constructs a grid Generator. logger is used only for the
// worker pool's panic handler.
func NewGenerator(riskMgr *risk.Manager, logger core.ILogger) *Generator {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "option-grid",
		MaxWorkers:  8,
		MaxCapacity: 256,
	}, logger)
	return &Generator{riskMgr: riskMgr, pool: pool}
}

// Stop releases the generator's worker pool.
func (g *Generator) Stop() {
	g.pool.Stop()
}

// Generate builds the full 110-cell grid for the given portfolio and
// snapshot, deterministically ordered: strikes ascending, then expiries in
// the fixed order, then Call before Put.
func (g *Generator) Generate(portfolio domain.Portfolio, poolBTC decimal.Decimal, snapshot domain.MarketSnapshot) []domain.OptionGridCell {
	strikes := strikesAround(snapshot.Spot)

	type cellTask struct {
		strike decimal.Decimal
		expire domain.ExpireLabel
		side   domain.Side
		index  int
	}

	var tasks []cellTask
	idx := 0
	for _, strike := range strikes {
		for _, expire := range domain.ExpiryOrder {
			for _, side := range []domain.Side{domain.SideCall, domain.SidePut} {
				tasks = append(tasks, cellTask{strike: strike, expire: expire, side: side, index: idx})
				idx++
			}
		}
	}

	results := make([]domain.OptionGridCell, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		t := task
		err := g.pool.Submit(func() {
			defer wg.Done()
			results[t.index] = g.priceCell(t.strike, t.expire, t.side, portfolio, poolBTC, snapshot)
		})
		if err != nil {
			wg.Done()
			results[t.index] = g.priceCell(t.strike, t.expire, t.side, portfolio, poolBTC, snapshot)
		}
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Strike.Equal(results[j].Strike) {
			return results[i].Strike.LessThan(results[j].Strike)
		}
		oi := expiryIndex(results[i].ExpireLabel)
		oj := expiryIndex(results[j].ExpireLabel)
		if oi != oj {
			return oi < oj
		}
		return results[i].Side == domain.SideCall && results[j].Side == domain.SidePut
	})

	return results
}

func (g *Generator) priceCell(strike decimal.Decimal, expire domain.ExpireLabel, side domain.Side, portfolio domain.Portfolio, poolBTC decimal.Decimal, snapshot domain.MarketSnapshot) domain.OptionGridCell {
	expirySeconds := domain.ExpirySeconds[expire]
	expiresAt := snapshot.Now.Add(time.Duration(expirySeconds) * time.Second)
	tYears := float64(expirySeconds) / float64(yearSeconds)

	sigma, ok := snapshot.IV(strike, expiresAt)
	if !ok {
		return domain.OptionGridCell{
			Side:        side,
			Strike:      strike,
			ExpireLabel: expire,
			Premium:     decimal.Zero,
			IV:          0,
			Delta:       0,
			MaxQuantity: decimal.Zero,
		}
	}

	spotF, _ := snapshot.Spot.Float64()
	strikeF, _ := strike.Float64()
	result, err := pricing.Price(toPricingSide(side), spotF, strikeF, tYears, snapshot.RiskFreeRate, sigma)
	if err != nil {
		return domain.OptionGridCell{
			Side:        side,
			Strike:      strike,
			ExpireLabel: expire,
			Premium:     decimal.Zero,
			IV:          0,
			Delta:       0,
			MaxQuantity: decimal.Zero,
		}
	}

	premiumBTC := decimal.NewFromFloat(result.PremiumUSD / spotF)
	maxQty := g.riskMgr.MaxQuantity(side, strike, snapshot.Spot, tYears, sigma, poolBTC, portfolio, snapshot.Now, snapshot)

	return domain.OptionGridCell{
		Side:        side,
		Strike:      strike,
		ExpireLabel: expire,
		Premium:     premiumBTC,
		IV:          sigma,
		Delta:       result.Delta,
		MaxQuantity: maxQty,
	}
}

const yearSeconds = 365 * 24 * 60 * 60

func strikesAround(spot decimal.Decimal) []decimal.Decimal {
	step := decimal.NewFromInt(strikeStep)
	centerUnits := spot.Div(step).Round(0)
	strikes := make([]decimal.Decimal, 0, strikeCount)
	for i := strikeLow; i <= strikeHigh; i++ {
		strikes = append(strikes, centerUnits.Add(decimal.NewFromInt(int64(i))).Mul(step))
	}
	return strikes
}

func expiryIndex(label domain.ExpireLabel) int {
	for i, l := range domain.ExpiryOrder {
		if l == label {
			return i
		}
	}
	return len(domain.ExpiryOrder)
}

func toPricingSide(s domain.Side) pricing.Side {
	if s == domain.SidePut {
		return pricing.Put
	}
	return pricing.Call
}
