package underwrite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"optionsengine/internal/core"
	"optionsengine/internal/domain"
	"optionsengine/internal/risk"
	"optionsengine/pkg/apperrors"
	"optionsengine/pkg/telemetry"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

type fakeMarket struct {
	snapshot domain.MarketSnapshot
	poolBTC  decimal.Decimal
}

func (f *fakeMarket) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeMarket) PoolBalanceBTC(ctx context.Context) (decimal.Decimal, error) {
	return f.poolBTC, nil
}

type fakeStore struct {
	mu        sync.Mutex
	contracts []domain.Contract
	history   []domain.PremiumHistoryEntry
	nextID    int64
}

func (f *fakeStore) ActiveContracts(ctx context.Context, now time.Time) (domain.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.NonExpired(f.contracts, now), nil
}

func (f *fakeStore) InsertContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	f.contracts = append(f.contracts, c)
	return c, nil
}

func (f *fakeStore) AppendPremium(ctx context.Context, entry domain.PremiumHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func init() {
	_ = telemetry.GetGlobalMetrics().InitMetrics(noop.NewMeterProvider().Meter("test"))
}

func TestSubmit_AcceptsWithinCollateral(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	spot := decimal.NewFromInt(100000)
	snap := domain.MarketSnapshot{
		Spot: spot,
		IV: func(strike decimal.Decimal, expiresAt time.Time) (float64, bool) {
			return 0.5, true
		},
		RiskFreeRate: 0.05,
		Now:          now,
	}
	market := &fakeMarket{snapshot: snap, poolBTC: decimal.NewFromFloat(1.0)}
	st := &fakeStore{}
	gate := NewGate(market, st, risk.NewManager(risk.DefaultConfig()), &noopLogger{})

	candidate := Candidate{
		Side:      domain.SidePut,
		Strike:    decimal.NewFromInt(100000),
		Quantity:  decimal.NewFromFloat(0.001),
		ExpiresAt: now.Add(24 * time.Hour),
	}

	contract, err := gate.Submit(context.Background(), candidate)
	require.NoError(t, err)
	assert.NotZero(t, contract.ID)
	assert.True(t, contract.Quantity.Equal(candidate.Quantity))
	require.Len(t, st.contracts, 1)
	require.Len(t, st.history, 1)
}

func TestSubmit_RejectsWhenExceedingCollateral(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	spot := decimal.NewFromInt(100000)
	snap := domain.MarketSnapshot{
		Spot: spot,
		IV: func(strike decimal.Decimal, expiresAt time.Time) (float64, bool) {
			return 0.5, true
		},
		RiskFreeRate: 0.05,
		Now:          now,
	}
	market := &fakeMarket{snapshot: snap, poolBTC: decimal.NewFromFloat(1.0)}
	st := &fakeStore{}
	gate := NewGate(market, st, risk.NewManager(risk.DefaultConfig()), &noopLogger{})

	candidate := Candidate{
		Side:      domain.SidePut,
		Strike:    decimal.NewFromInt(100000),
		Quantity:  decimal.NewFromInt(10),
		ExpiresAt: now.Add(24 * time.Hour),
	}

	_, err := gate.Submit(context.Background(), candidate)
	require.Error(t, err)
	assert.Empty(t, st.contracts)

	var collateralErr *apperrors.InsufficientCollateralError
	require.True(t, errors.As(err, &collateralErr))
	assert.InDelta(t, 60000, collateralErr.Required, 1000)
	assert.Equal(t, 50000.0, collateralErr.Available)
}

func TestSubmit_RejectsQuantityOverHardCap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	market := &fakeMarket{snapshot: domain.MarketSnapshot{Now: now}, poolBTC: decimal.NewFromFloat(1.0)}
	st := &fakeStore{}
	gate := NewGate(market, st, risk.NewManager(risk.DefaultConfig()), &noopLogger{})

	_, err := gate.Submit(context.Background(), Candidate{
		Side:      domain.SidePut,
		Strike:    decimal.NewFromInt(100000),
		Quantity:  decimal.NewFromInt(1001),
		ExpiresAt: now.Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Empty(t, st.contracts)
}

func TestSubmit_RejectsInvalidShape(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	market := &fakeMarket{snapshot: domain.MarketSnapshot{Now: now}, poolBTC: decimal.NewFromFloat(1.0)}
	st := &fakeStore{}
	gate := NewGate(market, st, risk.NewManager(risk.DefaultConfig()), &noopLogger{})

	_, err := gate.Submit(context.Background(), Candidate{
		Side:      domain.SidePut,
		Strike:    decimal.Zero,
		Quantity:  decimal.NewFromFloat(0.001),
		ExpiresAt: now.Add(time.Hour),
	})
	require.Error(t, err)
	assert.Empty(t, st.contracts)
}

func TestSubmit_RejectsWhenIVUnavailable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	snap := domain.MarketSnapshot{
		Spot: decimal.NewFromInt(100000),
		IV: func(strike decimal.Decimal, expiresAt time.Time) (float64, bool) {
			return 0, false
		},
		RiskFreeRate: 0.05,
		Now:          now,
	}
	market := &fakeMarket{snapshot: snap, poolBTC: decimal.NewFromFloat(1.0)}
	st := &fakeStore{}
	gate := NewGate(market, st, risk.NewManager(risk.DefaultConfig()), &noopLogger{})

	_, err := gate.Submit(context.Background(), Candidate{
		Side:      domain.SideCall,
		Strike:    decimal.NewFromInt(100000),
		Quantity:  decimal.NewFromFloat(0.001),
		ExpiresAt: now.Add(time.Hour),
	})
	require.Error(t, err)
	assert.Empty(t, st.contracts)
}
