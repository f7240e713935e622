package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamProvider maintains a live quote cache fed by a websocket
// subscription (grounded on gorilla/websocket usage elsewhere in the
// retrieval pack for exchange market-data streams). As the lowest-latency
// member of the provider list it is typically placed first; the gateway
// falls through to REST providers on staleness or disconnect because
// StreamProvider reports ErrProviderNoData once its cache goes stale.
type StreamProvider struct {
	name    string
	url     string
	staleAfter time.Duration

	mu     sync.RWMutex
	quotes map[string]StockQuote
	conn   *websocket.Conn
	closed chan struct{}
}

// NewStreamProvider builds a streaming provider that will dial url lazily
// on first Start call. staleAfter bounds how old a cached tick may be
// before the provider reports no-data instead of returning it.
func NewStreamProvider(name, url string, staleAfter time.Duration) *StreamProvider {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Second
	}
	return &StreamProvider{
		name:       name,
		url:        url,
		staleAfter: staleAfter,
		quotes:     make(map[string]StockQuote),
		closed:     make(chan struct{}),
	}
}

func (p *StreamProvider) Name() string { return p.name }

type streamTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

// Start dials the websocket endpoint and pumps ticks into the in-memory
// quote cache until ctx is canceled or the connection drops. Callers run
// it in its own goroutine; reconnect policy is the caller's (orchestrator
// startup) responsibility, matching the cooperative, no-hidden-retry style
// of the rest of the engine.
func (p *StreamProvider) Start(ctx context.Context, symbols []string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return &ErrTransient{Cause: err}
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	sub := map[string]interface{}{"action": "subscribe", "symbols": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return &ErrTransient{Cause: err}
	}

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.closed:
				return
			default:
			}
			var tick streamTick
			if err := conn.ReadJSON(&tick); err != nil {
				return
			}
			p.mu.Lock()
			p.quotes[tick.Symbol] = StockQuote{Symbol: tick.Symbol, Bid: tick.Bid, Ask: tick.Ask, Last: tick.Last, Timestamp: time.Now()}
			p.mu.Unlock()
		}
	}()
	return nil
}

// Stop closes the underlying connection.
func (p *StreamProvider) Stop() {
	close(p.closed)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *StreamProvider) GetStockQuote(ctx context.Context, symbol string) (StockQuote, error) {
	p.mu.RLock()
	q, ok := p.quotes[symbol]
	p.mu.RUnlock()
	if !ok || time.Since(q.Timestamp) > p.staleAfter {
		return StockQuote{}, &ErrProviderNoData{Provider: p.name, Key: symbol}
	}
	return q, nil
}

// Option chain/greeks/historical are not meaningfully streamable over this
// transport; the stream provider reports no-data so the gateway falls
// through to REST providers for those calls.
func (p *StreamProvider) GetOptionQuote(ctx context.Context, occSymbol string) (OptionQuote, error) {
	return OptionQuote{}, &ErrProviderNoData{Provider: p.name, Key: occSymbol}
}

func (p *StreamProvider) GetOptionChain(ctx context.Context, underlying, expiration string) (Chain, error) {
	return Chain{}, &ErrProviderNoData{Provider: p.name, Key: underlying}
}

func (p *StreamProvider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date time.Time) (*OptionQuote, error) {
	return nil, &ErrProviderNoData{Provider: p.name, Key: occSymbol}
}

func (p *StreamProvider) GetGreeks(ctx context.Context, occSymbol string) (Greeks, error) {
	return Greeks{}, &ErrProviderNoData{Provider: p.name, Key: occSymbol}
}

func (p *StreamProvider) GetHistoricalCandles(ctx context.Context, symbol string, period int) ([]Candle, error) {
	return nil, &ErrProviderNoData{Provider: p.name, Key: symbol}
}
