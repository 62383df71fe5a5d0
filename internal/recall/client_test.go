package recall

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/portfolio-agent/internal/registry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		QuoteTimeout:  2 * time.Second,
		RatePerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKeyAndURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestGetPortfolio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/portfolio", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"tokens":[{"token":"0xweth","symbol":"WETH","chain":"evm","amount":2,"price":2500,"value":5000}]}`))
	})

	p, err := c.GetPortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Tokens, 1)
	assert.Equal(t, "WETH", p.Tokens[0].Symbol)
	assert.Equal(t, 5000.0, p.Tokens[0].Value)
}

func TestGetPrice_SVMChainParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, "svm", r.URL.Query().Get("chain"))
		assert.Equal(t, "mainnet", r.URL.Query().Get("specificChain"))
		w.Write([]byte(`{"success":true,"price":151.25}`))
	})

	sol := registry.Token{Symbol: "SOL", Address: "SoLmint", Chain: registry.ChainSVM}
	price, err := c.GetPrice(context.Background(), sol)
	require.NoError(t, err)
	assert.Equal(t, 151.25, price)
}

func TestGetPrice_MissingPriceIsDataError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"price":null}`))
	})

	_, err := c.GetPrice(context.Background(), registry.Token{Symbol: "WETH", Address: "0xweth"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrData, apiErr.Class)
	assert.False(t, IsRetryable(err))
}

func TestGetQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade/quote", r.URL.Path)
		assert.Equal(t, "0xweth", r.URL.Query().Get("fromToken"))
		assert.Equal(t, "0xusdc", r.URL.Query().Get("toToken"))
		assert.Equal(t, "2.00000000", r.URL.Query().Get("amount"))
		w.Write([]byte(`{"fromAmount":2,"toAmount":4990}`))
	})

	from := registry.Token{Symbol: "WETH", Address: "0xweth", Chain: registry.ChainEVM}
	to := registry.Token{Symbol: "USDC", Address: "0xusdc", Chain: registry.ChainEVM, Stable: true}
	q, err := c.GetQuote(context.Background(), from, to, 2)
	require.NoError(t, err)
	assert.True(t, q.Fillable())
	assert.Equal(t, 4990.0, q.ToAmount)
}

func TestExecuteTrade_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"success":true,"transaction":{"id":"tx-1","fromAmount":2,"toAmount":4990,"tradeAmountUsd":4990}}`))
	})

	res, err := c.ExecuteTrade(context.Background(), TradeRequest{
		FromToken:         registry.Token{Symbol: "WETH", Address: "0xweth", Chain: registry.ChainEVM},
		ToToken:           registry.Token{Symbol: "USDC", Address: "0xusdc", Chain: registry.ChainEVM, Stable: true},
		Amount:            2,
		Reason:            "test",
		SlippageTolerance: "0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TransactionID)
	assert.Equal(t, 4990.0, res.TradeValueUSD)
}

func TestExecuteTrade_RejectionBodyIsStructural(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Insufficient balance"}`))
	})

	_, err := c.ExecuteTrade(context.Background(), TradeRequest{
		FromToken: registry.Token{Symbol: "WETH", Address: "0xweth"},
		ToToken:   registry.Token{Symbol: "USDC", Address: "0xusdc", Stable: true},
		Amount:    2,
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrStructural, apiErr.Class)
	assert.False(t, apiErr.Retryable())
}

func TestDo_StatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantClass ErrorClass
		listing   bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, ErrTransient, false},
		{"server error", http.StatusBadGateway, `oops`, ErrTransient, false},
		{"listing age", http.StatusBadRequest, `{"error":"token too new, listing age under minimum"}`, ErrStructural, true},
		{"insufficient", http.StatusBadRequest, `{"error":"insufficient balance"}`, ErrStructural, false},
		{"unknown 4xx", http.StatusBadRequest, `{"error":"weird"}`, ErrTransient, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := c.GetPortfolio(context.Background())
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.wantClass, apiErr.Class)
			assert.Equal(t, tc.listing, apiErr.ListingAge())
		})
	}
}

func TestIsRetryable_Cancellation(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(errors.New("mystery")))
	assert.False(t, IsRetryable(nil))
}
