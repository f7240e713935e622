package marketdata

import (
	"context"
	"time"
)

// Provider is the explicit capability interface spec.md §9 replaces the
// source's duck-typed "provider" objects with. Failover policy lives in
// the Gateway, never in a Provider implementation.
type Provider interface {
	Name() string
	GetStockQuote(ctx context.Context, symbol string) (StockQuote, error)
	GetOptionQuote(ctx context.Context, occSymbol string) (OptionQuote, error)
	GetOptionChain(ctx context.Context, underlying, expiration string) (Chain, error)
	GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date time.Time) (*OptionQuote, error)
	GetGreeks(ctx context.Context, occSymbol string) (Greeks, error)
	GetHistoricalCandles(ctx context.Context, symbol string, period int) ([]Candle, error)
}

// transient reports whether an error from a provider should advance
// failover to the next provider (timeout, 5xx, explicit no-data) as
// opposed to being treated as an immediate hard failure for this call.
type transientError interface {
	Transient() bool
}

// ErrTransient wraps a provider error that should trigger failover.
type ErrTransient struct {
	Cause error
}

func (e *ErrTransient) Error() string   { return e.Cause.Error() }
func (e *ErrTransient) Unwrap() error   { return e.Cause }
func (e *ErrTransient) Transient() bool { return true }

// ErrProviderNoData signals this provider specifically had no data for the
// requested key (distinct from a transport error), so the gateway can
// distinguish "all no-data" from "all errored" per spec.md §4.1.
type ErrProviderNoData struct {
	Provider string
	Key      string
}

func (e *ErrProviderNoData) Error() string {
	return e.Provider + ": no data for " + e.Key
}
