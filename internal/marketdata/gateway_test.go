package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionstrike/engine/internal/errs"
)

// fakeProvider is a scriptable Provider double for exercising Gateway
// failover without any network transport.
type fakeProvider struct {
	name        string
	quote       StockQuote
	err         error
	calls       int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) GetStockQuote(ctx context.Context, symbol string) (StockQuote, error) {
	f.calls++
	if f.err != nil {
		return StockQuote{}, f.err
	}
	return f.quote, nil
}
func (f *fakeProvider) GetOptionQuote(ctx context.Context, occSymbol string) (OptionQuote, error) {
	return OptionQuote{}, f.err
}
func (f *fakeProvider) GetOptionChain(ctx context.Context, underlying, expiration string) (Chain, error) {
	return Chain{}, f.err
}
func (f *fakeProvider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date time.Time) (*OptionQuote, error) {
	return nil, f.err
}
func (f *fakeProvider) GetGreeks(ctx context.Context, occSymbol string) (Greeks, error) {
	return Greeks{}, f.err
}
func (f *fakeProvider) GetHistoricalCandles(ctx context.Context, symbol string, period int) ([]Candle, error) {
	return nil, f.err
}

func TestGateway_UsesFirstHealthyProvider(t *testing.T) {
	p1 := &fakeProvider{name: "primary", quote: StockQuote{Last: 100}}
	p2 := &fakeProvider{name: "backup", quote: StockQuote{Last: 200}}
	gw := NewGateway([]Provider{p1, p2}, time.Second, nil)

	q, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Last)
	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 0, p2.calls)
}

func TestGateway_FailsOverOnTransientError(t *testing.T) {
	p1 := &fakeProvider{name: "primary", err: &ErrTransient{Cause: errors.New("timeout")}}
	p2 := &fakeProvider{name: "backup", quote: StockQuote{Last: 200}}

	var fallbacks [][2]string
	gw := NewGateway([]Provider{p1, p2}, time.Second, func(from, to string) {
		fallbacks = append(fallbacks, [2]string{from, to})
	})

	q, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 200.0, q.Last)
	assert.Equal(t, [][2]string{{"primary", "backup"}}, fallbacks)
}

func TestGateway_NeverPinsToLastSuccessfulProvider(t *testing.T) {
	p1 := &fakeProvider{name: "primary", err: &ErrTransient{Cause: errors.New("timeout")}}
	p2 := &fakeProvider{name: "backup", quote: StockQuote{Last: 200}}
	gw := NewGateway([]Provider{p1, p2}, time.Second, nil)

	_, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	p1.err = nil
	p1.quote = StockQuote{Last: 111}
	q, err := gw.GetStockQuote(context.Background(), "MSFT") // distinct key avoids the cache
	require.NoError(t, err)
	assert.Equal(t, 111.0, q.Last, "gateway must retry from the first provider on every call")
}

func TestGateway_AllNoDataReturnsNoDataError(t *testing.T) {
	p1 := &fakeProvider{name: "primary", err: &ErrProviderNoData{Provider: "primary", Key: "AAPL"}}
	p2 := &fakeProvider{name: "backup", err: &ErrProviderNoData{Provider: "backup", Key: "AAPL"}}
	gw := NewGateway([]Provider{p1, p2}, time.Second, nil)

	_, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)
	var noData *errs.NoData
	assert.ErrorAs(t, err, &noData)
}

func TestGateway_AllTransientReturnsTransportFailure(t *testing.T) {
	p1 := &fakeProvider{name: "primary", err: &ErrTransient{Cause: errors.New("boom1")}}
	p2 := &fakeProvider{name: "backup", err: &ErrTransient{Cause: errors.New("boom2")}}
	gw := NewGateway([]Provider{p1, p2}, time.Second, nil)

	_, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.Error(t, err)
	var transport *errs.TransportFailure
	assert.ErrorAs(t, err, &transport)
}

func TestGateway_CachesWithinTTL(t *testing.T) {
	p1 := &fakeProvider{name: "primary", quote: StockQuote{Last: 100}}
	gw := NewGateway([]Provider{p1}, time.Second, nil)

	_, err := gw.GetStockQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = gw.GetStockQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, p1.calls, "second call within TTL should be served from cache")
}
