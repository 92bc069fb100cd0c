package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsengine/pkg/apperrors"
)

func TestPoolSource_BalanceBTC_ConvertsSatoshisToBTC(t *testing.T) {
	client := &fakeRESTClient{body: []byte(`{"confirmed_balance_satoshis":1250000000}`)}
	src := NewPoolSource(client)

	balance, err := src.BalanceBTC(context.Background())
	require.NoError(t, err)
	f, _ := balance.Float64()
	assert.Equal(t, 12.5, f)
}

func TestPoolSource_RejectsUnparseableResponse(t *testing.T) {
	client := &fakeRESTClient{body: []byte(`not-json`)}
	src := NewPoolSource(client)

	_, err := src.BalanceBTC(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
}

func TestPoolSource_WrapsTransportFailureAsUpstreamUnavailable(t *testing.T) {
	client := &fakeRESTClient{err: errors.New("connection refused")}
	src := NewPoolSource(client)

	_, err := src.BalanceBTC(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
}
