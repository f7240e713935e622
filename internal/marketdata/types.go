// Package marketdata implements the Market Data Gateway (C1): unified
// quote/chain/greeks access across an ordered list of providers with
// automatic failover and short-TTL caching.
package marketdata

import "time"

// StockQuote is a top-of-book snapshot for an equity symbol.
type StockQuote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// Mid returns the midpoint of bid/ask.
func (q StockQuote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Greeks holds the risk sensitivities of an option contract. Field names
// and shape are grounded on the Tradier-style options API response used
// elsewhere in the retrieval pack: delta/gamma/theta/vega/rho plus the
// provider's own IV readings.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
	Phi   float64
	BidIV float64
	MidIV float64
	AskIV float64
}

// OptionQuote is a top-of-book snapshot for a single OCC-symbol contract.
type OptionQuote struct {
	OCCSymbol string
	Bid       float64
	Ask       float64
	Last      float64
	IV        float64
	Greeks    *Greeks
	Timestamp time.Time
}

// Mid returns the midpoint of bid/ask.
func (q OptionQuote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// OptionContract is one row of an option chain. The chain-splitting
// convention must use OptionType (the provider's own side field), never a
// substring test on the OCC symbol — spec.md §6 calls this out explicitly.
type OptionContract struct {
	OCCSymbol      string
	Underlying     string
	OptionType     string // "call" | "put", provider-native casing preserved
	Strike         float64
	ExpirationDate string // YYYY-MM-DD
	Bid            float64
	Ask            float64
	Last           float64
	Volume         int64
	OpenInterest   int64
	Greeks         *Greeks
}

// Chain is a full option chain for one underlying/expiration pair.
type Chain struct {
	Underlying string
	Expiration string
	Contracts  []OptionContract
}

// Candle is one OHLC bar, used by the Trailing Manager's ATR computation.
type Candle struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}
