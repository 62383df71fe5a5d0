// Package recall is the HTTP client for the Recall Network trading API:
// portfolio, price, quote and trade-execution endpoints, with client-side
// rate limiting and per-call timeouts.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/registry"
)

// API is the surface the engine depends on. The concrete Client talks to
// the sandbox; tests substitute fakes.
type API interface {
	GetPortfolio(ctx context.Context) (*Portfolio, error)
	GetPrice(ctx context.Context, token registry.Token) (float64, error)
	GetQuote(ctx context.Context, from, to registry.Token, amount float64) (*Quote, error)
	ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error)
}

// Portfolio is the raw holdings payload, authoritative for the cycle.
type Portfolio struct {
	Tokens []PortfolioToken `json:"tokens"`
}

// PortfolioToken is one holding as the API reports it.
type PortfolioToken struct {
	Token  string  `json:"token"` // contract address
	Symbol string  `json:"symbol"`
	Chain  string  `json:"chain"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// Quote is a feasibility check result for a candidate trade.
type Quote struct {
	FromAmount float64 `json:"fromAmount"`
	ToAmount   float64 `json:"toAmount"`
}

// Fillable reports whether the quote indicates the trade would execute.
// A non-positive leg means "do not trade", not an error.
func (q *Quote) Fillable() bool {
	return q != nil && q.FromAmount > 0 && q.ToAmount > 0
}

// TradeRequest mirrors the /trade/execute body.
type TradeRequest struct {
	FromToken         registry.Token
	ToToken           registry.Token
	Amount            float64
	Reason            string
	SlippageTolerance string
	CorrelationID     string
}

// TradeResult is the realized outcome of a submitted trade.
type TradeResult struct {
	TransactionID string
	FromAmount    float64
	ToAmount      float64
	TradeValueUSD float64
}

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration // trade submission
	QuoteTimeout   time.Duration // price and quote lookups
	RatePerSecond  float64
}

// Client is the production API implementation.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("recall API key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("recall base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 8 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

func (c *Client) GetPortfolio(ctx context.Context) (*Portfolio, error) {
	var p Portfolio
	if err := c.get(ctx, "portfolio", "", "/agent/portfolio", nil, c.cfg.QuoteTimeout, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrice returns the current unit price for a token. A missing price is a
// data-class error: the caller skips the asset this cycle.
func (c *Client) GetPrice(ctx context.Context, token registry.Token) (float64, error) {
	params := url.Values{"token": {token.Address}}
	if token.Chain == registry.ChainSVM {
		params.Set("chain", "svm")
		params.Set("specificChain", "mainnet")
	}

	var body struct {
		Success bool     `json:"success"`
		Price   *float64 `json:"price"`
	}
	if err := c.get(ctx, "price", token.Symbol, "/price", params, c.cfg.QuoteTimeout, &body); err != nil {
		return 0, err
	}
	if !body.Success || body.Price == nil || *body.Price <= 0 {
		return 0, &APIError{Class: ErrData, Op: "price", Symbol: token.Symbol, Message: "no price in response"}
	}
	return *body.Price, nil
}

func (c *Client) GetQuote(ctx context.Context, from, to registry.Token, amount float64) (*Quote, error) {
	params := url.Values{
		"fromToken": {from.Address},
		"toToken":   {to.Address},
		"amount":    {formatAmount(amount)},
	}
	addChainParams(params, "from", from)
	addChainParams(params, "to", to)

	var q Quote
	if err := c.get(ctx, "quote", from.Symbol, "/trade/quote", params, c.cfg.QuoteTimeout, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	body := map[string]string{
		"fromToken":         req.FromToken.Address,
		"toToken":           req.ToToken.Address,
		"amount":            formatAmount(req.Amount),
		"reason":            req.Reason,
		"slippageTolerance": req.SlippageTolerance,
	}
	if req.FromToken.Chain == registry.ChainSVM {
		body["fromChain"] = "svm"
		body["fromSpecificChain"] = "mainnet"
	}
	if req.ToToken.Chain == registry.ChainSVM {
		body["toChain"] = "svm"
		body["toSpecificChain"] = "mainnet"
	}

	var resp struct {
		Success     bool   `json:"success"`
		Error       string `json:"error"`
		Transaction struct {
			ID             string  `json:"id"`
			FromAmount     float64 `json:"fromAmount"`
			ToAmount       float64 `json:"toAmount"`
			TradeAmountUSD float64 `json:"tradeAmountUsd"`
		} `json:"transaction"`
	}
	if err := c.post(ctx, "trade", req.FromToken.Symbol, "/trade/execute", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "trade rejected"
		}
		return nil, &APIError{
			Class:   classifyHTTP(400, msg),
			Op:      "trade",
			Symbol:  req.FromToken.Symbol,
			Message: msg,
		}
	}
	return &TradeResult{
		TransactionID: resp.Transaction.ID,
		FromAmount:    resp.Transaction.FromAmount,
		ToAmount:      resp.Transaction.ToAmount,
		TradeValueUSD: resp.Transaction.TradeAmountUSD,
	}, nil
}

func (c *Client) get(ctx context.Context, op, symbol, path string, params url.Values, timeout time.Duration, out any) error {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &APIError{Class: ErrStructural, Op: op, Symbol: symbol, Message: "build request", Cause: err}
	}
	return c.do(req, op, symbol, timeout, out)
}

func (c *Client) post(ctx context.Context, op, symbol, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return &APIError{Class: ErrStructural, Op: op, Symbol: symbol, Message: "marshal request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return &APIError{Class: ErrStructural, Op: op, Symbol: symbol, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, symbol, c.cfg.Timeout, out)
}

func (c *Client) do(req *http.Request, op, symbol string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	req = req.WithContext(ctx)

	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Class: ErrTransient, Op: op, Symbol: symbol, Message: "rate limiter wait", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	observ.RecordDuration("recall_call", time.Since(start), map[string]string{"op": op})
	if err != nil {
		observ.IncCounter("recall_errors_total", map[string]string{"op": op, "class": string(ErrTransient)})
		return &APIError{Class: ErrTransient, Op: op, Symbol: symbol, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Class: ErrTransient, Op: op, Symbol: symbol, Message: "read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiMessage(payload)
		class := classifyHTTP(resp.StatusCode, msg)
		observ.IncCounter("recall_errors_total", map[string]string{"op": op, "class": string(class)})
		return &APIError{
			Class:      class,
			Op:         op,
			Symbol:     symbol,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		observ.IncCounter("recall_errors_total", map[string]string{"op": op, "class": string(ErrData)})
		return &APIError{Class: ErrData, Op: op, Symbol: symbol, Message: "decode response", Cause: err}
	}
	return nil
}

// apiMessage pulls the error string out of a failure body, falling back to
// the raw body for non-JSON responses.
func apiMessage(payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return string(payload)
}

func addChainParams(params url.Values, prefix string, t registry.Token) {
	if t.Chain == registry.ChainSVM {
		params.Set(prefix+"Chain", "svm")
		params.Set(prefix+"SpecificChain", "mainnet")
	}
}

func formatAmount(a float64) string {
	return fmt.Sprintf("%.8f", a)
}
