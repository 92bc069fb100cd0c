package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/cache"
	"optionsengine/internal/core"
	"optionsengine/pkg/telemetry"
)

const (
	ivRefreshInterval = 15 * time.Second
	ivSurfaceCacheKey = "iv:surface"
)

// ivPoint is one (strike, expiry, sigma) observation from the IV surface.
type ivPoint struct {
	Strike    decimal.Decimal
	ExpiresAt time.Time
	Sigma     float64
}

// deribitInstrument is the shape of one entry the upstream options-chain
// endpoint returns: an instrument name like "BTC-26JUL24-100000-C" and its
// mark IV as a percentage.
type deribitInstrument struct {
	InstrumentName string  `json:"instrument_name"`
	MarkIV         float64 `json:"mark_iv"`
}

var instrumentNamePattern = regexp.MustCompile(`^BTC-(\d{1,2})([A-Z]{3})(\d{2})-(\d+)-([CP])$`)

var monthAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March, "APR": time.April,
	"MAY": time.May, "JUN": time.June, "JUL": time.July, "AUG": time.August,
	"SEP": time.September, "OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// parseInstrumentName extracts (strike, expiresAt) from a Deribit-style
// instrument name. Day-of-month may be one or two digits.
func parseInstrumentName(name string) (strike decimal.Decimal, expiresAt time.Time, err error) {
	m := instrumentNamePattern.FindStringSubmatch(name)
	if m == nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("unrecognized instrument name: %s", name)
	}
	day, _ := strconv.Atoi(m[1])
	month, ok := monthAbbrev[m[2]]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("unrecognized month: %s", m[2])
	}
	year, _ := strconv.Atoi(m[3])
	strikeInt, _ := strconv.ParseInt(m[4], 10, 64)

	expiresAt = time.Date(2000+year, month, day, 8, 0, 0, 0, time.UTC)
	strike = decimal.NewFromInt(strikeInt)
	return strike, expiresAt, nil
}

// IVSource maintains an in-memory snapshot of the implied-volatility surface,
// refreshed on a fixed timer from a REST options-chain endpoint. Lookups
// fall back to the nearest strike at the same expiry when no exact match is
// cached.
type IVSource struct {
	client restClient
	logger core.ILogger
	cache  cache.Cache

	mu     sync.RWMutex
	points []ivPoint
}

// NewIVSource constructs an IVSource reading from client.
func NewIVSource(client restClient, logger core.ILogger) *IVSource {
	return &IVSource{client: client, logger: logger, cache: cache.NewAuto()}
}

// Run blocks, refreshing the IV surface every ivRefreshInterval until ctx is
// canceled. Intended to be launched as a supervised background goroutine.
func (s *IVSource) Run(ctx context.Context) error {
	s.refresh(ctx)

	ticker := time.NewTicker(ivRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *IVSource) refresh(ctx context.Context) {
	if raw, ok := s.cache.Get(ctx, ivSurfaceCacheKey); ok {
		var points []ivPoint
		if err := json.Unmarshal(raw, &points); err == nil {
			s.mu.Lock()
			s.points = points
			s.mu.Unlock()
			return
		}
	}

	start := time.Now()
	body, err := s.client.Get(ctx, "/book_summary_by_currency", map[string]string{
		"currency": "BTC",
		"kind":     "option",
	})
	telemetry.GetGlobalMetrics().UpstreamLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Warn("iv surface refresh failed", "error", err.Error())
		return
	}

	var raw2 struct {
		Result []deribitInstrument `json:"result"`
	}
	if err := json.Unmarshal(body, &raw2); err != nil {
		s.logger.Warn("iv surface response unparseable", "error", err.Error())
		return
	}

	points := make([]ivPoint, 0, len(raw2.Result))
	for _, inst := range raw2.Result {
		strike, expiresAt, err := parseInstrumentName(inst.InstrumentName)
		if err != nil {
			continue
		}
		points = append(points, ivPoint{Strike: strike, ExpiresAt: expiresAt, Sigma: inst.MarkIV / 100})
	}

	s.mu.Lock()
	s.points = points
	s.mu.Unlock()

	if encoded, err := json.Marshal(points); err == nil {
		s.cache.Set(ctx, ivSurfaceCacheKey, encoded, ivRefreshInterval)
	}
}

// Lookup resolves sigma for (strike, expiresAt): an exact match at the same
// expiry wins; otherwise the nearest strike at the same expiry is used, with
// ties going to the lower strike. ok is false only when no point at all shares that expiry.
func (s *IVSource) Lookup(strike decimal.Decimal, expiresAt time.Time) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best      ivPoint
		haveBest  bool
		bestDelta decimal.Decimal
	)

	for _, p := range s.points {
		if !sameExpiry(p.ExpiresAt, expiresAt) {
			continue
		}
		if p.Strike.Equal(strike) {
			return p.Sigma, true
		}
		delta := p.Strike.Sub(strike).Abs()
		if !haveBest || delta.LessThan(bestDelta) || (delta.Equal(bestDelta) && p.Strike.LessThan(best.Strike)) {
			best, bestDelta, haveBest = p, delta, true
		}
	}

	if haveBest {
		return best.Sigma, true
	}

	telemetry.GetGlobalMetrics().IvUnavailableTotal.Add(context.Background(), 1)
	return 0, false
}

func sameExpiry(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
