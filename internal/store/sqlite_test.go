package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsengine/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndActiveContracts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	active := domain.Contract{
		Side:      domain.SidePut,
		Strike:    decimal.NewFromInt(100000),
		Quantity:  decimal.NewFromFloat(0.01),
		ExpiresAt: now.Add(24 * time.Hour),
		Premium:   decimal.NewFromFloat(0.001),
		CreatedAt: now,
	}
	expired := domain.Contract{
		Side:      domain.SideCall,
		Strike:    decimal.NewFromInt(95000),
		Quantity:  decimal.NewFromFloat(0.02),
		ExpiresAt: now.Add(-time.Hour),
		Premium:   decimal.NewFromFloat(0.002),
		CreatedAt: now.Add(-48 * time.Hour),
	}

	inserted, err := s.InsertContract(ctx, active)
	require.NoError(t, err)
	assert.NotZero(t, inserted.ID)

	_, err = s.InsertContract(ctx, expired)
	require.NoError(t, err)

	portfolio, err := s.ActiveContracts(ctx, now)
	require.NoError(t, err)
	require.Len(t, portfolio, 1)
	assert.True(t, portfolio[0].Strike.Equal(decimal.NewFromInt(100000)))
	assert.True(t, portfolio[0].Quantity.Equal(decimal.NewFromFloat(0.01)))
}

func TestContractsCreatedSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	old := domain.Contract{
		Side: domain.SideCall, Strike: decimal.NewFromInt(100000),
		Quantity: decimal.NewFromFloat(0.01), ExpiresAt: now.Add(48 * time.Hour),
		Premium: decimal.NewFromFloat(0.001), CreatedAt: now.Add(-72 * time.Hour),
	}
	recent := domain.Contract{
		Side: domain.SidePut, Strike: decimal.NewFromInt(105000),
		Quantity: decimal.NewFromFloat(0.01), ExpiresAt: now.Add(48 * time.Hour),
		Premium: decimal.NewFromFloat(0.001), CreatedAt: now.Add(-time.Hour),
	}
	_, err := s.InsertContract(ctx, old)
	require.NoError(t, err)
	_, err = s.InsertContract(ctx, recent)
	require.NoError(t, err)

	since := now.Add(-24 * time.Hour)
	result, err := s.ContractsCreatedSince(ctx, since)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.True(t, result[0].Strike.Equal(decimal.NewFromInt(105000)))
}

func TestAppendAndQueryPremiumHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	key := domain.ProductKey(domain.SideCall, decimal.NewFromInt(100000), now.Add(24*time.Hour))

	entries := []domain.PremiumHistoryEntry{
		{ProductKey: key, Side: domain.SideCall, StrikeCents: 10000000, ExpiresAt: now.Add(24 * time.Hour), Premium: decimal.NewFromFloat(0.01), Timestamp: now},
		{ProductKey: key, Side: domain.SideCall, StrikeCents: 10000000, ExpiresAt: now.Add(24 * time.Hour), Premium: decimal.NewFromFloat(0.015), Timestamp: now.Add(time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendPremium(ctx, e))
	}

	// duplicate timestamp is ignored
	require.NoError(t, s.AppendPremium(ctx, domain.PremiumHistoryEntry{
		ProductKey: key, Side: domain.SideCall, StrikeCents: 10000000,
		ExpiresAt: now.Add(24 * time.Hour), Premium: decimal.NewFromFloat(99), Timestamp: now,
	}))

	premium, ok, err := s.PremiumAtOrBefore(ctx, key, now.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, premium.Equal(decimal.NewFromFloat(0.01)))

	premium, ok, err = s.PremiumAtOrBefore(ctx, key, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, premium.Equal(decimal.NewFromFloat(0.015)))

	_, ok, err = s.PremiumAtOrBefore(ctx, key, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopGainersAndTopVolume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	gainerKey := "call-10000000-future"
	flatKey := "put-9500000-future"

	history := []domain.PremiumHistoryEntry{
		{ProductKey: gainerKey, Side: domain.SideCall, StrikeCents: 10000000, ExpiresAt: now.Add(time.Hour), Premium: decimal.NewFromFloat(0.01), Timestamp: now.Add(-3 * time.Minute)},
		{ProductKey: gainerKey, Side: domain.SideCall, StrikeCents: 10000000, ExpiresAt: now.Add(time.Hour), Premium: decimal.NewFromFloat(0.02), Timestamp: now.Add(-2 * time.Minute)},
		{ProductKey: gainerKey, Side: domain.SideCall, StrikeCents: 10000000, ExpiresAt: now.Add(time.Hour), Premium: decimal.NewFromFloat(0.03), Timestamp: now.Add(-time.Minute)},
		{ProductKey: flatKey, Side: domain.SidePut, StrikeCents: 9500000, ExpiresAt: now.Add(time.Hour), Premium: decimal.NewFromFloat(0.01), Timestamp: now.Add(-2 * time.Minute)},
		{ProductKey: flatKey, Side: domain.SidePut, StrikeCents: 9500000, ExpiresAt: now.Add(time.Hour), Premium: decimal.NewFromFloat(0.0101), Timestamp: now.Add(-time.Minute)},
	}
	for _, e := range history {
		require.NoError(t, s.AppendPremium(ctx, e))
	}

	gainers, err := s.TopGainers(ctx, now, time.Hour, 5)
	require.NoError(t, err)
	require.NotEmpty(t, gainers)
	assert.Equal(t, gainerKey, gainers[0].ProductKey)

	topVolume, err := s.TopVolume(ctx, now, time.Hour, 5)
	require.NoError(t, err)
	require.NotEmpty(t, topVolume)
	assert.Equal(t, gainerKey, topVolume[0].ProductKey)
	assert.EqualValues(t, 3, topVolume[0].SampleCount)
}
