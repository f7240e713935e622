// Package broker implements the Broker Gateway (C2): a thin, non-idempotent
// façade over a trading brokerage's order/account REST surface.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/optionstrike/engine/internal/errs"
)

// Side is the broker-facing buy/sell direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType selects market vs. limit pricing.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// TIF is the broker's time-in-force.
type TIF string

const (
	Day TIF = "day"
	GTC TIF = "gtc"
)

// OrderStatus mirrors the broker's authoritative fill-state enum.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// OrderState is the result of polling get_order — the only authoritative
// source of fill state (spec.md §4.2).
type OrderState struct {
	Status       OrderStatus
	FilledQty    int
	AvgFillPrice float64
	Reason       string
}

// Account is the subset of account fields the risk gate and executor need.
type Account struct {
	Cash               float64
	BuyingPower        float64
	OptionsBuyingPower float64
	Equity             float64
}

// Broker is the C2 capability set. submit_order is NOT automatically
// idempotent at the broker; callers (the executor) must record the
// returned id durably before trusting the side effect.
type Broker interface {
	SubmitOrder(ctx context.Context, occSymbol string, side Side, qty int, orderType OrderType, limitPrice *float64, tif TIF) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (OrderState, error)
	GetAccount(ctx context.Context) (Account, error)
	GetPosition(ctx context.Context, occSymbol string) (qty int, found bool, err error)
}

// RESTBroker is a Tradier-shaped REST implementation (grounded on the
// retrieval pack's brokerage REST client): static API key or short-lived
// JWT bearer token, sandbox vs. live base URL.
type RESTBroker struct {
	client    *http.Client
	baseURL   string
	accountID string

	apiKey      string
	bearerToken string
	tokenExpiry time.Time
	refreshFn   func(ctx context.Context) (token string, expiry time.Time, err error)
}

// NewRESTBroker builds a broker client against the given base URL using a
// static API key for authorization.
func NewRESTBroker(baseURL, apiKey, accountID string) *RESTBroker {
	return &RESTBroker{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		apiKey:    apiKey,
	}
}

// WithBearerRefresh switches the broker to OAuth-style bearer-token auth.
// refreshFn is called whenever the current token's exp claim (decoded via
// golang-jwt) is within one minute of expiring.
func (b *RESTBroker) WithBearerRefresh(refreshFn func(ctx context.Context) (string, time.Time, error)) *RESTBroker {
	b.refreshFn = refreshFn
	return b
}

func (b *RESTBroker) authHeader(ctx context.Context) (string, error) {
	if b.refreshFn == nil {
		return "Bearer " + b.apiKey, nil
	}
	if b.bearerToken == "" || time.Until(b.tokenExpiry) < time.Minute {
		token, expiry, err := b.refreshFn(ctx)
		if err != nil {
			return "", &errs.BrokerUnavailable{Op: "token_refresh", Last: err}
		}
		if exp := expiryFromClaims(token); !exp.IsZero() {
			expiry = exp
		}
		b.bearerToken = token
		b.tokenExpiry = expiry
	}
	return "Bearer " + b.bearerToken, nil
}

// expiryFromClaims decodes the unverified exp claim of a JWT bearer token
// so the broker can proactively refresh before the brokerage rejects it.
// Verification of the token's signature is the issuing brokerage's job;
// the gateway only needs the expiry to schedule its own refresh.
func expiryFromClaims(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		return exp.Time
	}
	return time.Time{}
}

func (b *RESTBroker) do(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	auth, err := b.authHeader(ctx)
	if err != nil {
		return nil, 0, err
	}
	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	} else if form != nil {
		path += "?" + form.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, &errs.BrokerUnavailable{Op: path, Last: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &errs.BrokerUnavailable{Op: path, Last: err}
	}
	return respBody, resp.StatusCode, nil
}

type submitOrderResponse struct {
	Order struct {
		ID     int    `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
	Errors struct {
		Error []string `json:"error"`
	} `json:"errors"`
}

// SubmitOrder places a single-leg order. Network errors raise
// BrokerUnavailable and are never auto-retried — the caller decides.
func (b *RESTBroker) SubmitOrder(ctx context.Context, occSymbol string, side Side, qty int, orderType OrderType, limitPrice *float64, tif TIF) (string, error) {
	underlying := occSymbol
	if idx := strings.IndexAny(occSymbol, "0123456789"); idx > 0 {
		underlying = occSymbol[:idx]
	}
	form := url.Values{
		"class":     {"option"},
		"symbol":    {underlying},
		"option_symbol": {occSymbol},
		"side":      {mapSide(side)},
		"quantity":  {strconv.Itoa(qty)},
		"type":      {string(orderType)},
		"duration":  {string(tif)},
	}
	if orderType == Limit && limitPrice != nil {
		form.Set("price", strconv.FormatFloat(*limitPrice, 'f', 2, 64))
	}
	body, status, err := b.do(ctx, http.MethodPost, "/accounts/"+b.accountID+"/orders", form)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", &errs.BrokerRejected{Reason: string(body)}
	}
	var resp submitOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding submit_order response: %w", err)
	}
	if len(resp.Errors.Error) > 0 {
		return "", &errs.BrokerRejected{Reason: strings.Join(resp.Errors.Error, "; ")}
	}
	return strconv.Itoa(resp.Order.ID), nil
}

func mapSide(s Side) string {
	if s == Buy {
		return "buy_to_open"
	}
	return "sell_to_close"
}

// CancelOrder is best-effort; a race with a fill is expected and must be
// resolved by the caller polling GetOrder afterward.
func (b *RESTBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, status, err := b.do(ctx, http.MethodDelete, "/accounts/"+b.accountID+"/orders/"+orderID, url.Values{})
	if err != nil {
		return err
	}
	if status >= 400 {
		return &errs.BrokerRejected{OrderID: orderID, Reason: fmt.Sprintf("cancel returned status %d", status)}
	}
	return nil
}

type getOrderResponse struct {
	Order struct {
		Status       string  `json:"status"`
		FilledQty    float64 `json:"exec_quantity"`
		AvgFillPrice float64 `json:"avg_fill_price"`
		Reason       string  `json:"reason_description"`
	} `json:"order"`
}

// GetOrder polls the broker for authoritative fill state.
func (b *RESTBroker) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	body, status, err := b.do(ctx, http.MethodGet, "/accounts/"+b.accountID+"/orders/"+orderID, url.Values{})
	if err != nil {
		return OrderState{}, err
	}
	if status >= 400 {
		return OrderState{}, &errs.BrokerUnavailable{Op: "get_order", Last: fmt.Errorf("status %d", status)}
	}
	var resp getOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderState{}, fmt.Errorf("decoding get_order response: %w", err)
	}
	return OrderState{
		Status:       OrderStatus(resp.Order.Status),
		FilledQty:    int(resp.Order.FilledQty),
		AvgFillPrice: resp.Order.AvgFillPrice,
		Reason:       resp.Order.Reason,
	}, nil
}

type balanceResponse struct {
	Balances struct {
		OptionBuyingPower float64 `json:"option_buying_power"`
		TotalEquity       float64 `json:"total_equity"`
		TotalCash         float64 `json:"total_cash"`
	} `json:"balances"`
}

// GetAccount reads account balances.
func (b *RESTBroker) GetAccount(ctx context.Context) (Account, error) {
	body, status, err := b.do(ctx, http.MethodGet, "/accounts/"+b.accountID+"/balances", nil)
	if err != nil {
		return Account{}, err
	}
	if status >= 400 {
		return Account{}, &errs.BrokerUnavailable{Op: "get_account", Last: fmt.Errorf("status %d", status)}
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Account{}, fmt.Errorf("decoding balance response: %w", err)
	}
	return Account{
		Cash:               resp.Balances.TotalCash,
		BuyingPower:        resp.Balances.TotalCash,
		OptionsBuyingPower: resp.Balances.OptionBuyingPower,
		Equity:             resp.Balances.TotalEquity,
	}, nil
}

type positionsResponse struct {
	Positions struct {
		Position []struct {
			Symbol   string  `json:"symbol"`
			Quantity float64 `json:"quantity"`
		} `json:"position"`
	} `json:"positions"`
}

// GetPosition reports the current held quantity for an OCC symbol, if any.
func (b *RESTBroker) GetPosition(ctx context.Context, occSymbol string) (int, bool, error) {
	body, status, err := b.do(ctx, http.MethodGet, "/accounts/"+b.accountID+"/positions", nil)
	if err != nil {
		return 0, false, err
	}
	if status >= 400 {
		return 0, false, &errs.BrokerUnavailable{Op: "get_position", Last: fmt.Errorf("status %d", status)}
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, false, fmt.Errorf("decoding positions response: %w", err)
	}
	for _, pos := range resp.Positions.Position {
		if pos.Symbol == occSymbol {
			return int(pos.Quantity), true, nil
		}
	}
	return 0, false, nil
}
