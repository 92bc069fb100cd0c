package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"optionsengine/internal/domain"
	"optionsengine/internal/grid"
	"optionsengine/internal/pricing"
	"optionsengine/internal/risk"
	"optionsengine/internal/store"
	"optionsengine/internal/underwrite"
	"optionsengine/pkg/apperrors"
)

// MarketSource is the subset of marketdata.Fuser the handlers need.
type MarketSource interface {
	Snapshot(ctx context.Context) (domain.MarketSnapshot, error)
	PoolBalanceBTC(ctx context.Context) (decimal.Decimal, error)
}

// Handlers binds the grid generator, underwriting gate, contract store, and
// risk manager to the routes Server registers.
type Handlers struct {
	Grid    *grid.Generator
	Gate    *underwrite.Gate
	Store   *store.Store
	Risk    *risk.Manager
	Market  MarketSource
	Lookback time.Duration
}

type optionGridCellJSON struct {
	Side        string  `json:"side"`
	StrikePrice string  `json:"strike_price"`
	Expire      string  `json:"expire"`
	Premium     string  `json:"premium"`
	MaxQuantity string  `json:"max_quantity"`
	IV          float64 `json:"iv"`
	Delta       float64 `json:"delta"`
}

// OptionsTable serves GET /optionsTable.
func (h *Handlers) OptionsTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.Market.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	poolBTC, err := h.Market.PoolBalanceBTC(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	portfolio, err := h.Store.ActiveContracts(ctx, snapshot.Now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cells := h.Grid.Generate(portfolio, poolBTC, snapshot)
	out := make([]optionGridCellJSON, 0, len(cells))
	for _, c := range cells {
		out = append(out, optionGridCellJSON{
			Side:        string(c.Side),
			StrikePrice: c.Strike.String(),
			Expire:      string(c.ExpireLabel),
			Premium:     c.Premium.String(),
			MaxQuantity: c.MaxQuantity.String(),
			IV:          c.IV,
			Delta:       c.Delta,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type submitContractRequest struct {
	Side        string `json:"side"`
	StrikePrice string `json:"strike_price"`
	Quantity    string `json:"quantity"`
	Expires     int64  `json:"expires"`
}

// SubmitContract serves POST /contract.
func (h *Handlers) SubmitContract(w http.ResponseWriter, r *http.Request) {
	var req submitContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalidInput)
		return
	}

	strike, err := decimal.NewFromString(req.StrikePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, &apperrors.InvalidInputError{Field: "strike_price", Message: "must be a decimal number"})
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, &apperrors.InvalidInputError{Field: "quantity", Message: "must be a decimal number"})
		return
	}

	candidate := underwrite.Candidate{
		Side:      domain.Side(req.Side),
		Strike:    strike,
		Quantity:  quantity,
		ExpiresAt: time.Unix(req.Expires, 0),
	}

	contract, err := h.Gate.Submit(r.Context(), candidate)
	if err != nil {
		writeError(w, statusForSubmitError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "contract accepted",
		"id":      contract.ID,
	})
}

// statusForSubmitError maps a Gate.Submit error to an HTTP status. Upstream
// and storage failures are the server's fault and map to 5xx; shape and
// business-rule rejections are the caller's fault and map to 400.
func statusForSubmitError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrStorageError):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type contractJSON struct {
	ID        int64  `json:"id"`
	Side      string `json:"side"`
	Strike    string `json:"strike_price"`
	Quantity  string `json:"quantity"`
	ExpiresAt int64  `json:"expires"`
	Premium   string `json:"premium"`
	CreatedAt int64  `json:"created_at"`
}

// ListContracts serves GET /contracts.
func (h *Handlers) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ActiveContracts(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]contractJSON, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, contractJSON{
			ID:        c.ID,
			Side:      string(c.Side),
			Strike:    c.Strike.String(),
			Quantity:  c.Quantity.String(),
			ExpiresAt: c.ExpiresAt.Unix(),
			Premium:   c.Premium.String(),
			CreatedAt: c.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// PortfolioDelta serves GET /delta.
func (h *Handlers) PortfolioDelta(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.Market.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	portfolio, err := h.Store.ActiveContracts(ctx, snapshot.Now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	total := portfolioDelta(portfolio, snapshot)
	writeJSON(w, http.StatusOK, total)
}

// TopBanner serves GET /topBanner.
func (h *Handlers) TopBanner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	contracts, err := h.Store.ContractsCreatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	volume := decimal.Zero
	for _, c := range contracts {
		volume = volume.Add(c.Quantity)
	}

	active, err := h.Store.ActiveContracts(ctx, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	openInterestUSD := decimal.Zero
	for _, c := range active {
		openInterestUSD = openInterestUSD.Add(c.Quantity.Mul(c.Strike))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"volume_24hr":        volume.String(),
		"open_interest_usd":  openInterestUSD.String(),
		"contract_count":     len(contracts),
	})
}

// MarketHighlights serves GET /marketHighlights.
func (h *Handlers) MarketHighlights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	gainers, err := h.Store.TopGainers(ctx, now, h.lookback(), 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	volume, err := h.Store.TopVolume(ctx, now, h.lookback(), 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_gainers": gainers,
		"top_volume":  volume,
	})
}

// TopGainers serves GET /topGainers.
func (h *Handlers) TopGainers(w http.ResponseWriter, r *http.Request) {
	gainers, err := h.Store.TopGainers(r.Context(), time.Now(), h.lookback(), 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, gainers)
}

// TopVolume serves GET /topVolume.
func (h *Handlers) TopVolume(w http.ResponseWriter, r *http.Request) {
	volume, err := h.Store.TopVolume(r.Context(), time.Now(), h.lookback(), 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, volume)
}

func (h *Handlers) lookback() time.Duration {
	if h.Lookback <= 0 {
		return 24 * time.Hour
	}
	return h.Lookback
}

func portfolioDelta(portfolio domain.Portfolio, snapshot domain.MarketSnapshot) float64 {
	var total float64
	for _, c := range portfolio {
		sigma, ok := snapshot.IV(c.Strike, c.ExpiresAt)
		if !ok {
			continue
		}
		tYears := c.ExpiresAt.Sub(snapshot.Now).Seconds() / (365 * 24 * 60 * 60)
		if tYears <= 0 {
			continue
		}
		spotF, _ := snapshot.Spot.Float64()
		strikeF, _ := c.Strike.Float64()
		qtyF, _ := c.Quantity.Float64()

		side := pricing.Call
		if c.Side == domain.SidePut {
			side = pricing.Put
		}
		result, err := pricing.Price(side, spotF, strikeF, tYears, snapshot.RiskFreeRate, sigma)
		if err != nil {
			continue
		}
		total += result.Delta * qtyF
	}
	return total
}
