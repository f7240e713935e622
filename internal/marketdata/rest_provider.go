package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// singleOrArray tolerates a brokerage API quirk where a collection
// endpoint returns a single object when there's exactly one result and an
// array otherwise (grounded on the Tradier-shaped REST client in the
// retrieval pack).
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type restQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

type restGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	Phi   float64 `json:"phi"`
	BidIV float64 `json:"bid_iv"`
	MidIV float64 `json:"mid_iv"`
	AskIV float64 `json:"ask_iv"`
}

type restOption struct {
	Greeks         *restGreeks `json:"greeks,omitempty"`
	Symbol         string      `json:"symbol"`
	OptionType     string      `json:"option_type"`
	ExpirationDate string      `json:"expiration_date"`
	Underlying     string      `json:"underlying"`
	Bid            float64     `json:"bid"`
	Ask            float64     `json:"ask"`
	Last           float64     `json:"last"`
	Volume         int64       `json:"volume"`
	OpenInterest   int64       `json:"open_interest"`
	Strike         float64     `json:"strike"`
}

type restChainResponse struct {
	Options struct {
		Option singleOrArray[restOption] `json:"option"`
	} `json:"options"`
}

type restQuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[restQuote] `json:"quote"`
	} `json:"quotes"`
}

// RESTProvider is a generic REST-backed Provider implementation. Its base
// URL and API key are configured per named provider entry in
// market_data.providers[] (spec.md §6); it speaks the Tradier-shaped JSON
// contract every broker-style quote API in the retrieval pack converges on.
type RESTProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTProvider builds a REST-backed market data provider.
func NewRESTProvider(name, baseURL, apiKey string, timeout time.Duration) *RESTProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *RESTProvider) Name() string { return p.name }

func (p *RESTProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ErrTransient{Cause: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrTransient{Cause: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &ErrTransient{Cause: fmt.Errorf("%s: status %d", path, resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &ErrProviderNoData{Provider: p.name, Key: path}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *RESTProvider) GetStockQuote(ctx context.Context, symbol string) (StockQuote, error) {
	body, err := p.get(ctx, "/markets/quotes?symbols="+symbol)
	if err != nil {
		return StockQuote{}, err
	}
	var resp restQuotesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StockQuote{}, fmt.Errorf("decoding quote response: %w", err)
	}
	if len(resp.Quotes.Quote) == 0 {
		return StockQuote{}, &ErrProviderNoData{Provider: p.name, Key: symbol}
	}
	q := resp.Quotes.Quote[0]
	return StockQuote{Symbol: q.Symbol, Bid: q.Bid, Ask: q.Ask, Last: q.Last, Timestamp: time.Now()}, nil
}

func (p *RESTProvider) GetOptionQuote(ctx context.Context, occSymbol string) (OptionQuote, error) {
	body, err := p.get(ctx, "/markets/quotes?symbols="+occSymbol+"&greeks=true")
	if err != nil {
		return OptionQuote{}, err
	}
	var resp restChainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OptionQuote{}, fmt.Errorf("decoding option quote response: %w", err)
	}
	if len(resp.Options.Option) == 0 {
		return OptionQuote{}, &ErrProviderNoData{Provider: p.name, Key: occSymbol}
	}
	o := resp.Options.Option[0]
	return toOptionQuote(o), nil
}

func (p *RESTProvider) GetOptionChain(ctx context.Context, underlying, expiration string) (Chain, error) {
	path := "/markets/options/chains?symbol=" + underlying + "&greeks=true"
	if expiration != "" {
		path += "&expiration=" + expiration
	}
	body, err := p.get(ctx, path)
	if err != nil {
		return Chain{}, err
	}
	var resp restChainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Chain{}, fmt.Errorf("decoding chain response: %w", err)
	}
	if len(resp.Options.Option) == 0 {
		return Chain{}, &ErrProviderNoData{Provider: p.name, Key: underlying + ":" + expiration}
	}
	contracts := make([]OptionContract, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		contracts = append(contracts, OptionContract{
			OCCSymbol:      o.Symbol,
			Underlying:     o.Underlying,
			OptionType:     o.OptionType, // provider-native "call"/"put" field, never a symbol substring test
			Strike:         o.Strike,
			ExpirationDate: o.ExpirationDate,
			Bid:            o.Bid,
			Ask:            o.Ask,
			Last:           o.Last,
			Volume:         o.Volume,
			OpenInterest:   o.OpenInterest,
			Greeks:         toGreeks(o.Greeks),
		})
	}
	return Chain{Underlying: underlying, Expiration: expiration, Contracts: contracts}, nil
}

func (p *RESTProvider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date time.Time) (*OptionQuote, error) {
	path := "/markets/history?symbol=" + occSymbol + "&start=" + date.Format("2006-01-02") + "&end=" + date.Format("2006-01-02")
	body, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var resp restChainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding historical response: %w", err)
	}
	if len(resp.Options.Option) == 0 {
		return nil, nil // none: no historical record for that date
	}
	q := toOptionQuote(resp.Options.Option[0])
	return &q, nil
}

func (p *RESTProvider) GetGreeks(ctx context.Context, occSymbol string) (Greeks, error) {
	q, err := p.GetOptionQuote(ctx, occSymbol)
	if err != nil {
		return Greeks{}, err
	}
	if q.Greeks == nil {
		return Greeks{}, &ErrProviderNoData{Provider: p.name, Key: occSymbol}
	}
	return *q.Greeks, nil
}

func (p *RESTProvider) GetHistoricalCandles(ctx context.Context, symbol string, period int) ([]Candle, error) {
	path := "/markets/history?symbol=" + symbol + "&interval=daily&days=" + strconv.Itoa(period)
	body, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		History struct {
			Day []struct {
				Date  string  `json:"date"`
				Open  float64 `json:"open"`
				High  float64 `json:"high"`
				Low   float64 `json:"low"`
				Close float64 `json:"close"`
			} `json:"day"`
		} `json:"history"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding candles response: %w", err)
	}
	if len(raw.History.Day) == 0 {
		return nil, &ErrProviderNoData{Provider: p.name, Key: symbol}
	}
	candles := make([]Candle, 0, len(raw.History.Day))
	for _, d := range raw.History.Day {
		t, _ := time.Parse("2006-01-02", d.Date)
		candles = append(candles, Candle{Date: t, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close})
	}
	return candles, nil
}

func toGreeks(g *restGreeks) *Greeks {
	if g == nil {
		return nil
	}
	return &Greeks{Delta: g.Delta, Gamma: g.Gamma, Theta: g.Theta, Vega: g.Vega, Rho: g.Rho, Phi: g.Phi, BidIV: g.BidIV, MidIV: g.MidIV, AskIV: g.AskIV}
}

func toOptionQuote(o restOption) OptionQuote {
	var iv float64
	if o.Greeks != nil {
		iv = o.Greeks.MidIV
	}
	return OptionQuote{
		OCCSymbol: o.Symbol,
		Bid:       o.Bid,
		Ask:       o.Ask,
		Last:      o.Last,
		IV:        iv,
		Greeks:    toGreeks(o.Greeks),
		Timestamp: time.Now(),
	}
}
