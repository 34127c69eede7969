package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
)

// DefaultBaseURL is the Metis swap API
const DefaultBaseURL = "https://api.jup.ag/swap/v1"

// SOLMint is the wrapped SOL mint, the quote side of every trade
const SOLMint = "So11111111111111111111111111111111111111112"

// Client handles Jupiter Metis API calls with HTTP/2 pooling and API key rotation
type Client struct {
	baseURL     string
	clientPool  *HTTPClientPool
	apiKeys     []string
	keyIdx      atomic.Uint32
	maxLamports uint64 // priority fee cap
	maxRetries  uint
	retryDelay  time.Duration
}

// HTTPClientPool provides HTTP/2 connection pooling
type HTTPClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

// NewHTTPClientPool creates an HTTP/2 optimized client pool
func NewHTTPClientPool(size int, timeout time.Duration) *HTTPClientPool {
	if size <= 0 {
		size = 1
	}
	pool := &HTTPClientPool{
		clients: make([]*http.Client, size),
	}

	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn().Err(err).Msg("http2 not configured, using HTTP/1.1")
		}

		pool.clients[i] = &http.Client{
			Transport: transport,
			Timeout:   timeout,
		}
	}

	log.Debug().Int("poolSize", size).Msg("HTTP/2 client pool initialized")
	return pool
}

func (p *HTTPClientPool) Get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return client
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL             string
	Timeout             time.Duration
	APIKeys             []string
	MaxRetries          int
	RetryDelay          time.Duration
	MaxPriorityLamports uint64
}

// NewClient creates a Jupiter Metis API client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxPriorityLamports == 0 {
		opts.MaxPriorityLamports = 1_000_000
	}

	return &Client{
		baseURL:     opts.BaseURL,
		clientPool:  NewHTTPClientPool(4, opts.Timeout),
		apiKeys:     opts.APIKeys,
		maxLamports: opts.MaxPriorityLamports,
		maxRetries:  uint(opts.MaxRetries),
		retryDelay:  opts.RetryDelay,
	}
}

// getAPIKey returns next API key (round-robin), empty when keyless
func (c *Client) getAPIKey() string {
	if len(c.apiKeys) == 0 {
		return ""
	}
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

// QuoteResponse from Jupiter
type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
	TimeTaken            float64         `json:"timeTaken"`
}

// InAmountRaw parses the quoted input in raw units, 0 when unparseable
func (q *QuoteResponse) InAmountRaw() uint64 {
	v, _ := strconv.ParseUint(q.InAmount, 10, 64)
	return v
}

// OutAmountRaw parses the quoted output in raw units, 0 when unparseable
func (q *QuoteResponse) OutAmountRaw() uint64 {
	v, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return v
}

type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// SwapResponse from Jupiter Metis
type SwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

type priorityLevel struct {
	PriorityLevel string `json:"priorityLevel"`
	MaxLamports   uint64 `json:"maxLamports"`
	Global        bool   `json:"global,omitempty"`
}

type prioritizationFee struct {
	PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
}

type swapRequest struct {
	QuoteResponse             *QuoteResponse     `json:"quoteResponse"`
	UserPublicKey             string             `json:"userPublicKey"`
	WrapAndUnwrapSol          bool               `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool               `json:"dynamicComputeUnitLimit"`
	SkipUserAccountsRpcCalls  bool               `json:"skipUserAccountsRpcCalls"`
	PrioritizationFeeLamports *prioritizationFee `json:"prioritizationFeeLamports"`
}

// StatusError is a non-200 answer from the API. The body is kept because
// route and liquidity failures are only distinguishable by its text.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Code, e.Body)
}

// retryable reports whether another attempt may succeed
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// GetQuote fetches a swap quote at the given slippage tolerance
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*QuoteResponse, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	endpoint := c.baseURL + "/quote?" + q.Encode()

	quote, err := withRetry(ctx, c, "quote", func() (*QuoteResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		var out QuoteResponse
		if err := c.do(req, "quote", &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Dur("latency", time.Since(start)).
		Int("slippageBps", slippageBps).
		Str("inAmount", quote.InAmount).
		Str("outAmount", quote.OutAmount).
		Msg("jupiter quote")

	return quote, nil
}

// GetSwapTransaction builds the unsigned swap transaction for a quote.
// The returned base64 transaction has the user as fee payer.
func (c *Client) GetSwapTransaction(ctx context.Context, quote *QuoteResponse, userPubkey string) (string, error) {
	start := time.Now()

	body, err := json.Marshal(swapRequest{
		QuoteResponse:            quote,
		UserPublicKey:            userPubkey,
		WrapAndUnwrapSol:         true,
		DynamicComputeUnitLimit:  true,
		SkipUserAccountsRpcCalls: true,
		PrioritizationFeeLamports: &prioritizationFee{
			PriorityLevelWithMaxLamports: priorityLevel{
				PriorityLevel: "veryHigh",
				MaxLamports:   c.maxLamports,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	swapResp, err := withRetry(ctx, c, "swap", func() (*SwapResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		var out SwapResponse
		if err := c.do(req, "swap", &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}
	if swapResp.SwapTransaction == "" {
		return "", fmt.Errorf("swap response without transaction")
	}

	log.Debug().
		Dur("latency", time.Since(start)).
		Uint64("priorityFee", swapResp.PrioritizationFeeLamports).
		Msg("jupiter swap tx")

	return swapResp.SwapTransaction, nil
}

// do sends the request and decodes a 200 body into out. Non-retryable
// status codes are wrapped as permanent so backoff stops immediately.
func (c *Client) do(req *http.Request, op string, out interface{}) error {
	if key := c.getAPIKey(); key != "" {
		req.Header.Set("x-api-key", key)
	}

	resp, err := c.clientPool.Get().Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Op: op, Code: resp.StatusCode, Body: string(b)}
		if serr.retryable() {
			return serr
		}
		return backoff.Permanent(serr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s: %w", op, err))
	}
	return nil
}

func withRetry[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxInterval = c.retryDelay * 10

	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug().Err(err).Str("op", op).Dur("backoff", d).Msg("jupiter retry")
		}))
}
