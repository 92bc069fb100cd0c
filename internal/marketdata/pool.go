package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/pkg/apperrors"
	"optionsengine/pkg/telemetry"
)

var satoshisPerBTC = decimal.NewFromInt(100_000_000)

// restClient is the subset of pkg/httpclient.Client the IV and pool sources
// depend on.
type restClient interface {
	Get(ctx context.Context, path string, params map[string]string) ([]byte, error)
}

// PoolSource reports the underwriting pool's BTC balance over REST.
type PoolSource struct {
	client restClient
}

// NewPoolSource constructs a PoolSource reading from client.
func NewPoolSource(client restClient) *PoolSource {
	return &PoolSource{client: client}
}

type poolStatusResponse struct {
	ConfirmedBalanceSatoshis int64 `json:"confirmed_balance_satoshis"`
}

// BalanceBTC fetches the current confirmed pool balance and converts it
// from satoshis to BTC.
func (p *PoolSource) BalanceBTC(ctx context.Context) (decimal.Decimal, error) {
	start := time.Now()
	body, err := p.client.Get(ctx, "/poolStatus", nil)
	telemetry.GetGlobalMetrics().UpstreamLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return decimal.Zero, apperrors.NewUpstreamUnavailable("pool", "check pool balance endpoint", err)
	}

	var resp poolStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, apperrors.NewUpstreamUnavailable("pool", "pool status response unparseable", err)
	}

	return decimal.NewFromInt(resp.ConfirmedBalanceSatoshis).Div(satoshisPerBTC), nil
}
