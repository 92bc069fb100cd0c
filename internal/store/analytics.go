package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ProductSummary aggregates premium movement for a single product over a
// lookback window, used for the highlights, top-gainers and top-volume views.
type ProductSummary struct {
	ProductKey    string
	Side          string
	StrikeCents   int64
	ExpiresAt     time.Time
	FirstPremium  decimal.Decimal
	LastPremium   decimal.Decimal
	ChangePercent float64
	SampleCount   int64
}

// TopGainers returns the products whose premium rose the most (by percent)
// over the lookback window ending at now, largest percent change first,
// limited to limit rows.
func (s *Store) TopGainers(ctx context.Context, now time.Time, lookback time.Duration, limit int) ([]ProductSummary, error) {
	summaries, err := s.productSummaries(ctx, now, lookback)
	if err != nil {
		return nil, err
	}

	sortByChangeDesc(summaries)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// TopVolume returns the products with the most premium_history samples
// recorded over the lookback window, i.e. the most actively re-quoted
// products, limited to limit rows.
func (s *Store) TopVolume(ctx context.Context, now time.Time, lookback time.Duration, limit int) ([]ProductSummary, error) {
	summaries, err := s.productSummaries(ctx, now, lookback)
	if err != nil {
		return nil, err
	}

	sortBySampleCountDesc(summaries)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *Store) productSummaries(ctx context.Context, now time.Time, lookback time.Duration) ([]ProductSummary, error) {
	since := now.Add(-lookback).Unix()

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_key, side, strike_cents, expires_at, premium, timestamp
		 FROM premium_history WHERE timestamp >= ? ORDER BY product_key, timestamp ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query premium history for summaries: %w", err)
	}
	defer rows.Close()

	byProduct := make(map[string]*ProductSummary)
	var order []string

	for rows.Next() {
		var (
			productKey  string
			side        string
			strikeCents int64
			expiresAt   int64
			premiumStr  string
			timestamp   int64
		)
		if err := rows.Scan(&productKey, &side, &strikeCents, &expiresAt, &premiumStr, &timestamp); err != nil {
			return nil, fmt.Errorf("scan premium history row: %w", err)
		}
		premium, err := decimal.NewFromString(premiumStr)
		if err != nil {
			return nil, fmt.Errorf("parse premium: %w", err)
		}

		summary, ok := byProduct[productKey]
		if !ok {
			summary = &ProductSummary{
				ProductKey:   productKey,
				Side:         side,
				StrikeCents:  strikeCents,
				ExpiresAt:    time.Unix(expiresAt, 0),
				FirstPremium: premium,
			}
			byProduct[productKey] = summary
			order = append(order, productKey)
		}
		summary.LastPremium = premium
		summary.SampleCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ProductSummary, 0, len(order))
	for _, key := range order {
		summary := byProduct[key]
		if !summary.FirstPremium.IsZero() {
			delta := summary.LastPremium.Sub(summary.FirstPremium)
			pct, _ := delta.Div(summary.FirstPremium).Mul(decimal.NewFromInt(100)).Float64()
			summary.ChangePercent = pct
		}
		out = append(out, *summary)
	}
	return out, nil
}

func sortByChangeDesc(s []ProductSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].ChangePercent > s[j].ChangePercent })
}

func sortBySampleCountDesc(s []ProductSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].SampleCount > s[j].SampleCount })
}
