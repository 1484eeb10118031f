package market

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

// PriceClient fetches token USD prices from an aggregator price API.
type PriceClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewPriceClient(baseURL, apiKey string) *PriceClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.jup.ag/price/v2"
	}
	return &PriceClient{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(apiKey),
		HTTP: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// HTTPError is a non-2xx response from the price API.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("price api http %d", e.StatusCode)
	}
	return fmt.Sprintf("price api http %d: %s", e.StatusCode, b)
}

type priceResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

// PriceUSD returns the USD price for a single mint.
func (c *PriceClient) PriceUSD(ctx context.Context, mint string) (decimal.Decimal, error) {
	prices, err := c.PricesUSD(ctx, []string{mint})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[mint]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price, nil
}

// PricesUSD returns USD prices for a batch of mints. Mints the API does not
// know are simply absent from the result.
func (c *PriceClient) PricesUSD(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(parsed.Data))
	for mint, entry := range parsed.Data {
		if entry.Price == "" {
			continue
		}
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			continue
		}
		out[mint] = price
	}
	return out, nil
}
