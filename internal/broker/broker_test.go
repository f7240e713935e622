package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionstrike/engine/internal/errs"
)

func TestSubmitOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/ACC1/orders", r.URL.Path)
		assert.Equal(t, "Bearer key123", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 42, "status": "ok"}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key123", "ACC1")
	id, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Sell, 1, Market, nil, Day)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestSubmitOrder_RejectedByErrorsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": map[string]any{"error": []string{"insufficient funds"}}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key123", "ACC1")
	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Sell, 1, Market, nil, Day)
	require.Error(t, err)
	var rejected *errs.BrokerRejected
	assert.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "insufficient funds")
}

func TestSubmitOrder_RejectedByHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key123", "ACC1")
	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Sell, 1, Market, nil, Day)
	require.Error(t, err)
	var rejected *errs.BrokerRejected
	assert.ErrorAs(t, err, &rejected)
}

func TestSubmitOrder_NetworkFailureIsBrokerUnavailable(t *testing.T) {
	b := NewRESTBroker("http://127.0.0.1:0", "key123", "ACC1")
	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Sell, 1, Market, nil, Day)
	require.Error(t, err)
	var unavailable *errs.BrokerUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestSubmitOrder_LimitOrderIncludesPrice(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Get("price")
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	limit := 1.95
	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Limit, &limit, Day)
	require.NoError(t, err)
	assert.Equal(t, "1.95", gotBody)
}

func TestGetOrder_ParsesFillState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{
			"status": "filled", "exec_quantity": 1, "avg_fill_price": 2.15,
		}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	state, err := b.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, state.Status)
	assert.Equal(t, 1, state.FilledQty)
	assert.Equal(t, 2.15, state.AvgFillPrice)
}

func TestGetOrder_ServerErrorIsBrokerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	_, err := b.GetOrder(context.Background(), "42")
	require.Error(t, err)
	var unavailable *errs.BrokerUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestGetAccount_ParsesBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"balances": map[string]any{
			"option_buying_power": 10000.0, "total_equity": 50000.0, "total_cash": 20000.0,
		}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10000.0, acct.OptionsBuyingPower)
	assert.Equal(t, 50000.0, acct.Equity)
	assert.Equal(t, 20000.0, acct.Cash)
}

func TestGetPosition_FindsMatchingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"positions": map[string]any{
			"position": []map[string]any{
				{"symbol": "AAPL260116P00150000", "quantity": -1},
			},
		}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	qty, found, err := b.GetPosition(context.Background(), "AAPL260116P00150000")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, -1, qty)
}

func TestGetPosition_NoMatchReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"positions": map[string]any{"position": []map[string]any{}}})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	_, found, err := b.GetPosition(context.Background(), "AAPL260116P00150000")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancelOrder_RejectedStatusReturnsBrokerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "ACC1")
	err := b.CancelOrder(context.Background(), "42")
	require.Error(t, err)
	var rejected *errs.BrokerRejected
	assert.ErrorAs(t, err, &rejected)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return s
}

func TestWithBearerRefresh_RefreshesWhenTokenMissing(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	calls := 0
	b := NewRESTBroker(srv.URL, "", "ACC1").WithBearerRefresh(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return token, time.Now().Add(time.Hour), nil
	})

	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithBearerRefresh_ReusesUnexpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	calls := 0
	b := NewRESTBroker(srv.URL, "", "ACC1").WithBearerRefresh(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return signedToken(t, time.Now().Add(time.Hour)), time.Now().Add(time.Hour), nil
	})

	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.NoError(t, err)
	_, err = b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call within token lifetime should not re-refresh")
}

func TestWithBearerRefresh_RefreshesWhenNearExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	calls := 0
	b := NewRESTBroker(srv.URL, "", "ACC1").WithBearerRefresh(func(ctx context.Context) (string, time.Time, error) {
		calls++
		return signedToken(t, time.Now().Add(30*time.Second)), time.Now().Add(30 * time.Second), nil
	})

	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.NoError(t, err)
	_, err = b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "token within one minute of expiry must be refreshed again")
}

func TestWithBearerRefresh_RefreshErrorIsBrokerUnavailable(t *testing.T) {
	b := NewRESTBroker("http://example.test", "", "ACC1").WithBearerRefresh(func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, assertErr{}
	})
	_, err := b.SubmitOrder(context.Background(), "AAPL260116P00150000", Buy, 1, Market, nil, Day)
	require.Error(t, err)
	var unavailable *errs.BrokerUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

type assertErr struct{}

func (assertErr) Error() string { return "refresh failed" }
