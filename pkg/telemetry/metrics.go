package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricContractsAcceptedTotal = "optionsengine_contracts_accepted_total"
	MetricContractsRejectedTotal = "optionsengine_contracts_rejected_total"
	MetricAvailableCollateral    = "optionsengine_available_collateral_usd"
	MetricPortfolioMargin        = "optionsengine_portfolio_margin_usd"
	MetricGridGenerationSeconds  = "optionsengine_grid_generation_seconds"
	MetricSpotCacheHitTotal      = "optionsengine_spot_cache_hit_total"
	MetricSpotCacheMissTotal     = "optionsengine_spot_cache_miss_total"
	MetricUpstreamLatency        = "optionsengine_upstream_latency_ms"
	MetricIvUnavailableTotal     = "optionsengine_iv_unavailable_total"
)

// MetricsHolder holds initialized instruments for the underwriting engine.
type MetricsHolder struct {
	ContractsAcceptedTotal metric.Int64Counter
	ContractsRejectedTotal metric.Int64Counter
	AvailableCollateral    metric.Float64ObservableGauge
	PortfolioMargin        metric.Float64ObservableGauge
	GridGenerationSeconds  metric.Float64Histogram
	SpotCacheHitTotal      metric.Int64Counter
	SpotCacheMissTotal     metric.Int64Counter
	UpstreamLatency        metric.Float64Histogram
	IvUnavailableTotal     metric.Int64Counter

	mu                  sync.RWMutex
	availableCollateral float64
	portfolioMargin     float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ContractsAcceptedTotal, err = meter.Int64Counter(MetricContractsAcceptedTotal, metric.WithDescription("Total contracts accepted by the underwriting gate"))
	if err != nil {
		return err
	}

	m.ContractsRejectedTotal, err = meter.Int64Counter(MetricContractsRejectedTotal, metric.WithDescription("Total contracts rejected by the underwriting gate"))
	if err != nil {
		return err
	}

	m.GridGenerationSeconds, err = meter.Float64Histogram(MetricGridGenerationSeconds, metric.WithDescription("Time to generate the full option grid"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.SpotCacheHitTotal, err = meter.Int64Counter(MetricSpotCacheHitTotal, metric.WithDescription("Spot price cache hits"))
	if err != nil {
		return err
	}

	m.SpotCacheMissTotal, err = meter.Int64Counter(MetricSpotCacheMissTotal, metric.WithDescription("Spot price cache misses requiring an upstream refresh"))
	if err != nil {
		return err
	}

	m.UpstreamLatency, err = meter.Float64Histogram(MetricUpstreamLatency, metric.WithDescription("Latency of upstream spot/IV/pool calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.IvUnavailableTotal, err = meter.Int64Counter(MetricIvUnavailableTotal, metric.WithDescription("IV lookups that resolved no value"))
	if err != nil {
		return err
	}

	m.AvailableCollateral, err = meter.Float64ObservableGauge(MetricAvailableCollateral, metric.WithDescription("Current available collateral in USD"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.availableCollateral)
			return nil
		}))
	if err != nil {
		return err
	}

	m.PortfolioMargin, err = meter.Float64ObservableGauge(MetricPortfolioMargin, metric.WithDescription("Current sum of position margins for the open portfolio"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.portfolioMargin)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetAvailableCollateral records the latest available-collateral reading.
func (m *MetricsHolder) SetAvailableCollateral(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availableCollateral = usd
}

// SetPortfolioMargin records the latest portfolio-margin reading.
func (m *MetricsHolder) SetPortfolioMargin(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioMargin = usd
}

// RecordAdmission increments the accepted/rejected counters.
func (m *MetricsHolder) RecordAdmission(ctx context.Context, accepted bool) {
	if accepted {
		m.ContractsAcceptedTotal.Add(ctx, 1)
		return
	}
	m.ContractsRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "insufficient_collateral")))
}
