package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"optionsengine/internal/core"
	"optionsengine/internal/domain"
	"optionsengine/internal/grid"
	"optionsengine/internal/risk"
	"optionsengine/internal/store"
	"optionsengine/internal/underwrite"
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

func init() {
	_ = telemetry.GetGlobalMetrics().InitMetrics(noop.NewMeterProvider().Meter("test"))
}

type fakeMarket struct {
	spot decimal.Decimal
	pool decimal.Decimal
}

func (f *fakeMarket) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{
		Spot: f.spot,
		IV: func(strike decimal.Decimal, expiresAt time.Time) (float64, bool) {
			return 0.5, true
		},
		RiskFreeRate: 0.05,
		Now:          time.Now(),
	}, nil
}

func (f *fakeMarket) PoolBalanceBTC(ctx context.Context) (decimal.Decimal, error) {
	return f.pool, nil
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "contracts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	riskMgr := risk.NewManager(risk.DefaultConfig())
	market := &fakeMarket{spot: decimal.NewFromInt(100000), pool: decimal.NewFromFloat(1.0)}
	gateway := underwrite.NewGate(market, st, riskMgr, &noopLogger{})
	gridGen := grid.NewGenerator(riskMgr, &noopLogger{})
	t.Cleanup(gridGen.Stop)

	return &Handlers{
		Grid:   gridGen,
		Gate:   gateway,
		Store:  st,
		Risk:   riskMgr,
		Market: market,
	}
}

func TestOptionsTable_ReturnsGrid(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/optionsTable", nil)
	rec := httptest.NewRecorder()

	h.OptionsTable(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out []optionGridCellJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 110)
}

func TestSubmitAndListContracts(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(submitContractRequest{
		Side:        "put",
		StrikePrice: "100000",
		Quantity:    "0.001",
		Expires:     time.Now().Add(24 * time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/contract", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitContract(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	listRec := httptest.NewRecorder()
	h.ListContracts(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var contracts []contractJSON
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &contracts))
	require.Len(t, contracts, 1)
	assert.Equal(t, "put", contracts[0].Side)
}

func TestSubmitContract_RejectsBadShape(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(submitContractRequest{
		Side:        "put",
		StrikePrice: "not-a-number",
		Quantity:    "0.001",
		Expires:     time.Now().Add(24 * time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/contract", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitContract(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopBanner_ReportsContractCount(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := h.Store.InsertContract(ctx, domain.Contract{
			Side:      domain.SideCall,
			Strike:    decimal.NewFromInt(100000),
			Quantity:  decimal.NewFromFloat(0.01),
			ExpiresAt: now.Add(48 * time.Hour),
			Premium:   decimal.NewFromFloat(0.001),
			CreatedAt: now,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/topBanner", nil)
	rec := httptest.NewRecorder()
	h.TopBanner(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.EqualValues(t, 3, out["contract_count"])
}
