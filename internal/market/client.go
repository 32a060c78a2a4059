package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wellaios/crypto-chart-mcp/internal/catalog"
)

// Client talks to the CoinMarketCap-style provider API. All calls are
// context-aware and pass through a client-side rate limiter so bursts of
// chart requests cannot trip the provider's quota.
//
// The API key is attached as a request header and never appears in returned
// errors or logs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a provider client limited to ratePerSec requests per
// second (burst 1).
func NewClient(baseURL, apiKey string, ratePerSec int, timeout time.Duration, logger zerolog.Logger) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:        logger.With().Str("component", "market.client").Logger(),
	}
}

// get performs a rate-limited GET of path with the given query and decodes
// the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("provider rate limit exceeded (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).
			Bytes("body", body).Msg("provider request failed")
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ohlcvQuote is the USD leg of one historical or latest OHLCV quote.
type ohlcvQuote struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Updated   time.Time `json:"last_updated"`
}

func (q ohlcvQuote) candle() Candle {
	ts := q.Timestamp
	if ts.IsZero() {
		ts = q.Updated
	}
	return Candle{Timestamp: ts, Open: q.Open, High: q.High, Low: q.Low, Close: q.Close, Volume: q.Volume}
}

// OHLCV fetches up to count historical candles for symbol at the given
// interval, oldest first.
func (c *Client) OHLCV(ctx context.Context, symbol string, interval Interval, count int) ([]Candle, error) {
	var payload struct {
		Data map[string][]struct {
			Quotes []struct {
				Quote map[string]ohlcvQuote `json:"quote"`
			} `json:"quotes"`
		} `json:"data"`
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("count", strconv.Itoa(count))
	q.Set("interval", string(interval))
	if err := c.get(ctx, "/v2/cryptocurrency/ohlcv/historical", q, &payload); err != nil {
		return nil, err
	}

	entries, ok := payload.Data[symbol]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("no historical data for %s", symbol)
	}

	candles := make([]Candle, 0, len(entries[0].Quotes))
	for _, quote := range entries[0].Quotes {
		usd, ok := quote.Quote["USD"]
		if !ok {
			continue
		}
		candles = append(candles, usd.candle())
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("empty historical series for %s", symbol)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

// LatestQuote fetches the current in-progress candle for symbol.
func (c *Client) LatestQuote(ctx context.Context, symbol string) (Candle, error) {
	var payload struct {
		Data map[string][]struct {
			Quote map[string]ohlcvQuote `json:"quote"`
		} `json:"data"`
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	if err := c.get(ctx, "/v2/cryptocurrency/ohlcv/latest", q, &payload); err != nil {
		return Candle{}, err
	}

	entries, ok := payload.Data[symbol]
	if !ok || len(entries) == 0 {
		return Candle{}, fmt.Errorf("no latest data for %s", symbol)
	}
	usd, ok := entries[0].Quote["USD"]
	if !ok {
		return Candle{}, fmt.Errorf("no USD quote for %s", symbol)
	}
	return usd.candle(), nil
}

// Trending fetches the provider's trending list, limited to limit assets.
func (c *Client) Trending(ctx context.Context, limit int) ([]TrendingEntry, error) {
	var payload struct {
		Data []struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
			Quote  map[string]struct {
				Price           float64 `json:"price"`
				PercentChange24 float64 `json:"percent_change_24h"`
				VolumeChange24  float64 `json:"volume_change_24h"`
			} `json:"quote"`
		} `json:"data"`
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if err := c.get(ctx, "/v1/cryptocurrency/trending/latest", q, &payload); err != nil {
		return nil, err
	}

	entries := make([]TrendingEntry, 0, len(payload.Data))
	for _, d := range payload.Data {
		usd, ok := d.Quote["USD"]
		if !ok {
			continue
		}
		entries = append(entries, TrendingEntry{
			Name:            d.Name,
			Symbol:          d.Symbol,
			Price:           usd.Price,
			PriceChange24h:  usd.PercentChange24,
			VolumeChange24h: usd.VolumeChange24,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty trending list")
	}
	return entries, nil
}

// ListAssets fetches the provider's full coin map for catalog refreshes.
func (c *Client) ListAssets(ctx context.Context) ([]catalog.Asset, error) {
	var payload struct {
		Data []catalog.Asset `json:"data"`
	}
	if err := c.get(ctx, "/v1/cryptocurrency/map", url.Values{}, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}
