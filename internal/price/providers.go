package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func positive(d decimal.Decimal) (float64, error) {
	if !d.IsPositive() {
		return 0, errNoPrice
	}
	return d.InexactFloat64(), nil
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Birdeye reads /defi/price. Skipped when no API key is configured.
type Birdeye struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func (b *Birdeye) Name() string { return "birdeye" }

func (b *Birdeye) Price(ctx context.Context, mint string) (float64, error) {
	if b.APIKey == "" {
		return 0, fmt.Errorf("birdeye: no api key")
	}
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Value decimal.Decimal `json:"value"`
		} `json:"data"`
	}
	endpoint := b.BaseURL + "?address=" + url.QueryEscape(mint)
	headers := map[string]string{"X-API-KEY": b.APIKey, "x-chain": "solana"}
	if err := getJSON(ctx, defaultClient(b.Client), endpoint, headers, &body); err != nil {
		return 0, err
	}
	if !body.Success {
		return 0, errNoPrice
	}
	return positive(body.Data.Value)
}

// JupiterPrice reads the aggregator's price endpoint, keyed by mint
type JupiterPrice struct {
	BaseURL string
	Client  *http.Client
}

func (j *JupiterPrice) Name() string { return "jupiter" }

func (j *JupiterPrice) Price(ctx context.Context, mint string) (float64, error) {
	var body struct {
		Data map[string]*struct {
			Price decimal.Decimal `json:"price"`
		} `json:"data"`
	}
	endpoint := j.BaseURL + "?ids=" + url.QueryEscape(mint)
	if err := getJSON(ctx, defaultClient(j.Client), endpoint, nil, &body); err != nil {
		return 0, err
	}
	entry := body.Data[mint]
	if entry == nil {
		return 0, errNoPrice
	}
	return positive(entry.Price)
}

// DexScreener reads the first pair listed for the token
type DexScreener struct {
	BaseURL string
	Client  *http.Client
}

func (d *DexScreener) Name() string { return "dexscreener" }

func (d *DexScreener) Price(ctx context.Context, mint string) (float64, error) {
	var body struct {
		Pairs []struct {
			PriceUsd decimal.Decimal `json:"priceUsd"`
		} `json:"pairs"`
	}
	endpoint := strings.TrimRight(d.BaseURL, "/") + "/" + url.PathEscape(mint)
	if err := getJSON(ctx, defaultClient(d.Client), endpoint, nil, &body); err != nil {
		return 0, err
	}
	if len(body.Pairs) == 0 {
		return 0, errNoPrice
	}
	return positive(body.Pairs[0].PriceUsd)
}

// Settings builds the provider list in configured order
type Settings struct {
	Order          []string
	BirdeyeURL     string
	BirdeyeAPIKey  string
	JupiterURL     string
	DexScreenerURL string
	Client         *http.Client
}

// NewProviders returns providers for the names in s.Order, unknown names skipped
func NewProviders(s Settings) []Provider {
	var out []Provider
	for _, name := range s.Order {
		switch strings.ToLower(name) {
		case "birdeye":
			out = append(out, &Birdeye{BaseURL: s.BirdeyeURL, APIKey: s.BirdeyeAPIKey, Client: s.Client})
		case "jupiter":
			out = append(out, &JupiterPrice{BaseURL: s.JupiterURL, Client: s.Client})
		case "dexscreener":
			out = append(out, &DexScreener{BaseURL: s.DexScreenerURL, Client: s.Client})
		}
	}
	return out
}
