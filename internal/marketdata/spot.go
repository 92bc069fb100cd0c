// Package marketdata fuses three upstream sources into the coherent
// MarketSnapshot the pricing, risk, and grid components read: a spot price
// served over an RPC aggregator, an implied-volatility surface refreshed on
// a background timer, and a liquidity pool balance fetched over REST.
package marketdata

import (
	"context"
	"net/rpc"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"optionsengine/internal/cache"
	"optionsengine/internal/core"
	"optionsengine/pkg/apperrors"
	"optionsengine/pkg/retry"
	"optionsengine/pkg/telemetry"
)

// SpotRequest is the RPC argument sent to the aggregator's Spot.Get method.
type SpotRequest struct {
	Network string
}

// SpotReply is the RPC result: a USD spot price observed at Timestamp
// (unix seconds).
type SpotReply struct {
	PriceUSD  float64
	Timestamp int64
}

const spotCacheTTL = 10 * time.Second

// SpotSource maintains a single-cell TTL cache of the BTC/USD spot price,
// backed by a net/rpc aggregator. The cache cell is pluggable (in-process or
// shared Redis, see internal/cache) so multiple engine instances can share
// one upstream refresh; concurrent cache misses within this process further
// collapse into one dial via singleflight.
type SpotSource struct {
	addr    string
	network string
	logger  core.ILogger
	cache   cache.Cache

	flight singleflight.Group
}

// NewSpotSource constructs a SpotSource dialing addr (host:port) for network
// ("signet", "mainnet", ...).
func NewSpotSource(addr, network string, logger core.ILogger) *SpotSource {
	return &SpotSource{addr: addr, network: network, logger: logger, cache: cache.NewAuto()}
}

func (s *SpotSource) cacheKey() string {
	return "spot:" + s.network
}

// Warm performs a startup probe of the aggregator so a cold cache is never
// served to the first caller.
func (s *SpotSource) Warm(ctx context.Context) error {
	_, err := s.Get(ctx)
	return err
}

// Get returns the current spot price, refreshing from the aggregator if the
// cached value is older than spotCacheTTL.
func (s *SpotSource) Get(ctx context.Context) (decimal.Decimal, error) {
	if raw, ok := s.cache.Get(ctx, s.cacheKey()); ok {
		if value, err := decimal.NewFromString(string(raw)); err == nil {
			telemetry.GetGlobalMetrics().SpotCacheHitTotal.Add(ctx, 1)
			return value, nil
		}
	}

	telemetry.GetGlobalMetrics().SpotCacheMissTotal.Add(ctx, 1)

	result, err, _ := s.flight.Do("spot", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}

func (s *SpotSource) refresh(ctx context.Context) (decimal.Decimal, error) {
	start := time.Now()
	var reply SpotReply

	policy := retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 1 * time.Second}
	err := retry.Do(ctx, policy, func(error) bool { return true }, func() error {
		client, dialErr := rpc.Dial("tcp", s.addr)
		if dialErr != nil {
			return dialErr
		}
		defer client.Close()
		return client.Call("Spot.Get", SpotRequest{Network: s.network}, &reply)
	})

	telemetry.GetGlobalMetrics().UpstreamLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		return decimal.Zero, apperrors.NewUpstreamUnavailable("spot", "check aggregator RPC listener at "+s.addr, err)
	}

	price := decimal.NewFromFloat(reply.PriceUSD)
	s.cache.Set(ctx, s.cacheKey(), []byte(price.String()), spotCacheTTL)

	return price, nil
}
