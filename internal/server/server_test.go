package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wellaios/crypto-chart-mcp/internal/artifact"
	"github.com/wellaios/crypto-chart-mcp/internal/catalog"
	"github.com/wellaios/crypto-chart-mcp/internal/icons"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
	"github.com/wellaios/crypto-chart-mcp/internal/session"
)

const testToken = "test-bearer-token"

// fakeProvider serves deterministic candles and trending entries.
type fakeProvider struct {
	mu            sync.Mutex
	ohlcvCalls    int
	trendingCalls int

	blockOHLCV chan struct{} // when set, OHLCV waits on it
	entered    chan struct{} // signaled when OHLCV starts
}

func (p *fakeProvider) OHLCV(ctx context.Context, symbol string, interval market.Interval, count int) ([]market.Candle, error) {
	p.mu.Lock()
	p.ohlcvCalls++
	block, entered := p.blockOHLCV, p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, count)
	for i := range candles {
		candles[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Open:      100 + float64(i),
			High:      103 + float64(i),
			Low:       98 + float64(i),
			Close:     101 + float64(i),
			Volume:    5000,
		}
	}
	return candles, nil
}

func (p *fakeProvider) LatestQuote(ctx context.Context, symbol string) (market.Candle, error) {
	return market.Candle{}, fmt.Errorf("no live quote in tests")
}

func (p *fakeProvider) Trending(ctx context.Context, limit int) ([]market.TrendingEntry, error) {
	p.mu.Lock()
	p.trendingCalls++
	p.mu.Unlock()

	entries := make([]market.TrendingEntry, limit)
	for i := range entries {
		entries[i] = market.TrendingEntry{
			Name:            fmt.Sprintf("Coin %d", i),
			Symbol:          fmt.Sprintf("C%d", i),
			Price:           float64(10 * (i + 1)),
			PriceChange24h:  float64(i%7) - 3,
			VolumeChange24h: float64(100 * (i + 1)),
		}
	}
	return entries, nil
}

func (p *fakeProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ohlcvCalls, p.trendingCalls
}

func newTestServer(t *testing.T, maxInFlight int) (*httptest.Server, *fakeProvider) {
	return newTestServerWith(t, maxInFlight, time.Minute, 5*time.Second)
}

func newTestServerWith(t *testing.T, maxInFlight int, seriesTTL, fetchTimeout time.Duration) (*httptest.Server, *fakeProvider) {
	t.Helper()
	nop := zerolog.Nop()

	snapshot := filepath.Join(t.TempDir(), "coins.json")
	coins := []catalog.Asset{
		{ID: 1, Symbol: "BTC", Slug: "bitcoin", Name: "Bitcoin", Rank: 1},
		{ID: 1027, Symbol: "ETH", Slug: "ethereum", Name: "Ethereum", Rank: 2},
	}
	data, err := json.Marshal(coins)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snapshot, data, 0o644))

	cat, err := catalog.New(snapshot, nop)
	require.NoError(t, err)

	provider := &fakeProvider{}
	fetcher := market.NewFetcher(provider, market.FetcherConfig{
		TTL:          seriesTTL,
		StaleGrace:   time.Millisecond,
		FetchTimeout: fetchTimeout,
	}, nop)

	charts, err := artifact.NewPublisher(artifact.Config{
		Dir:      t.TempDir(),
		BaseURL:  "https://charts.example.com",
		MaxCount: 100,
		MaxAge:   time.Hour,
	}, nop)
	require.NoError(t, err)

	srv := New(Options{
		Catalog:        cat,
		Icons:          icons.NewStore(t.TempDir(), nop),
		Market:         fetcher,
		Charts:         charts,
		Sessions:       session.NewRegistry(maxInFlight, time.Hour, nop),
		BearerToken:    testToken,
		RequestTimeout: 10 * time.Second,
		Watermark:      "By WELLAIOS plot",
	}, nop)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, provider
}

// postMCP sends one JSON-RPC request and decodes the response envelope.
func postMCP(t *testing.T, ts *httptest.Server, token, sessionID string, req MCPRequest) (*http.Response, *MCPResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusUnauthorized {
		return resp, nil
	}
	var out MCPResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, &out
}

func callTool(t *testing.T, ts *httptest.Server, sessionID, tool string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{
		"name":      tool,
		"arguments": args,
	})
	require.NoError(t, err)
	_, resp := postMCP(t, ts, testToken, sessionID, MCPRequest{
		JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params,
	})
	require.NotNil(t, resp)
	return resp
}

// toolResultJSON extracts and unmarshals the text content of a tool result.
func toolResultJSON(t *testing.T, resp *MCPResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "tool call failed: %+v", resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	content, ok := result["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, content, 1)
	item := content[0].(map[string]interface{})
	require.Equal(t, "text", item["type"])
	require.NoError(t, json.Unmarshal([]byte(item["text"].(string)), out))
}

func TestRejectsMissingOrWrongBearer(t *testing.T) {
	ts, _ := newTestServer(t, 4)

	resp, _ := postMCP(t, ts, "", "", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postMCP(t, ts, "wrong-token", "", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "ping"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInitializeAssignsSession(t *testing.T) {
	ts, _ := newTestServer(t, 4)

	httpResp, resp := postMCP(t, ts, testToken, "", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	require.NotEmpty(t, httpResp.Header.Get("Mcp-Session-Id"))

	result := resp.Result.(map[string]interface{})
	require.Equal(t, protocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]interface{})
	require.Equal(t, "crypto-chart-mcp", info["name"])
}

func TestInitializedNotificationAccepted(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	httpResp, resp := postMCP(t, ts, testToken, "", MCPRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.Equal(t, http.StatusAccepted, httpResp.StatusCode)
	require.Nil(t, resp)
}

func TestToolsList(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	_, resp := postMCP(t, ts, testToken, "", MCPRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	tools := result["tools"].([]interface{})
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.(map[string]interface{})["name"].(string))
	}
	require.ElementsMatch(t, []string{"price_chart", "trending_heatmap"}, names)
}

func TestPing(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	_, resp := postMCP(t, ts, testToken, "", MCPRequest{JSONRPC: "2.0", ID: 3, Method: "ping"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
}

func TestUnknownMethod(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	_, resp := postMCP(t, ts, testToken, "", MCPRequest{JSONRPC: "2.0", ID: 4, Method: "resources/list"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(2), body["coins"])
}

func TestChartRouteUnknownID(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	resp, err := ts.Client().Get(ts.URL + "/charts?id=deadbeef")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// fetchChart retrieves a published chart through the HTTP route, taking the
// artifact id from the URL the tool returned.
func fetchChart(t *testing.T, ts *httptest.Server, chartURL string) []byte {
	t.Helper()
	parsed, err := url.Parse(chartURL)
	require.NoError(t, err)
	id := parsed.Query().Get("id")
	require.NotEmpty(t, id)

	resp, err := ts.Client().Get(ts.URL + "/charts?id=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "inline", resp.Header.Get("Content-Disposition"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestPriceChartEndToEnd(t *testing.T) {
	ts, provider := newTestServer(t, 4)

	resp := callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{
		"symbol": "btc",
		"days":   14,
	})

	var result struct {
		URL      string `json:"url"`
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
		Days     int    `json:"days"`
	}
	toolResultJSON(t, resp, &result)
	require.Equal(t, "BTC", result.Symbol)
	require.Equal(t, "daily", result.Interval)
	require.Equal(t, 14, result.Days)
	require.Contains(t, result.URL, "https://charts.example.com/charts?id=")

	data := fetchChart(t, ts, result.URL)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1200, img.Bounds().Dx())

	ohlcv, _ := provider.calls()
	require.Equal(t, 1, ohlcv)
}

func TestPriceChartIdempotentURL(t *testing.T) {
	ts, provider := newTestServer(t, 4)

	args := map[string]interface{}{"symbol": "ETH", "days": 7, "theme": "dark"}

	var first, second struct {
		URL string `json:"url"`
	}
	toolResultJSON(t, callTool(t, ts, "caller-1", "price_chart", args), &first)
	toolResultJSON(t, callTool(t, ts, "caller-2", "price_chart", args), &second)
	require.Equal(t, first.URL, second.URL)

	// The second call was served from the series cache.
	ohlcv, _ := provider.calls()
	require.Equal(t, 1, ohlcv)
}

func TestPriceChartArtifactWindowShortCircuits(t *testing.T) {
	ts, provider := newTestServerWith(t, 4, 20*time.Millisecond, 5*time.Second)

	args := map[string]interface{}{"symbol": "BTC", "days": 9}
	var first, second struct {
		URL string `json:"url"`
	}
	toolResultJSON(t, callTool(t, ts, "caller-1", "price_chart", args), &first)

	// Let the series cache lapse; the published artifact is still fresh.
	time.Sleep(60 * time.Millisecond)

	toolResultJSON(t, callTool(t, ts, "caller-1", "price_chart", args), &second)
	require.Equal(t, first.URL, second.URL)

	ohlcv, _ := provider.calls()
	require.Equal(t, 1, ohlcv, "repeat request inside the artifact window must not re-fetch or re-render")
}

func TestFetchTimeoutFreesCallerSlot(t *testing.T) {
	ts, provider := newTestServerWith(t, 1, time.Minute, 30*time.Millisecond)

	provider.mu.Lock()
	provider.blockOHLCV = make(chan struct{})
	provider.mu.Unlock()

	resp := callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{"symbol": "BTC"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32000, resp.Error.Code)
	require.Equal(t, "data_unavailable", resp.Error.Data)

	provider.mu.Lock()
	provider.blockOHLCV = nil
	provider.mu.Unlock()

	// The timed-out call released its slot; the same caller gets through.
	resp = callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{"symbol": "ETH"})
	require.Nil(t, resp.Error)
}

func TestPriceChartUnknownAsset(t *testing.T) {
	ts, provider := newTestServer(t, 4)

	resp := callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{"symbol": "NOPE"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32602, resp.Error.Code)
	require.Equal(t, "unknown_asset", resp.Error.Data)
	require.Contains(t, resp.Error.Message, "NOPE")

	ohlcv, _ := provider.calls()
	require.Equal(t, 0, ohlcv, "catalog misses must not reach the provider")
}

func TestPriceChartArgumentValidation(t *testing.T) {
	ts, _ := newTestServer(t, 4)

	cases := []map[string]interface{}{
		{},                                        // missing symbol
		{"symbol": "BTC", "days": 0.5},            // non-integer days
		{"symbol": "BTC", "days": 400},            // out of range
		{"symbol": "BTC", "days": -3},             // out of range
		{"symbol": "BTC", "interval": "weekly"},   // bad interval
		{"symbol": "BTC", "theme": "sepia"},       // bad theme
		{"symbol": "BTC", "size": "gigantic"},     // bad size
	}
	for i, args := range cases {
		resp := callTool(t, ts, "caller-1", "price_chart", args)
		require.NotNil(t, resp.Error, "case %d", i)
		require.Equal(t, -32602, resp.Error.Code, "case %d", i)
	}
}

func TestUnknownTool(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	resp := callTool(t, ts, "caller-1", "make_coffee", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, -32602, resp.Error.Code)
}

func TestTrendingHeatmapEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t, 4)

	resp := callTool(t, ts, "caller-1", "trending_heatmap", map[string]interface{}{"limit": 5})

	var result struct {
		URL     string                 `json:"url"`
		Limit   int                    `json:"limit"`
		Entries []market.TrendingEntry `json:"entries"`
	}
	toolResultJSON(t, resp, &result)
	require.Equal(t, 5, result.Limit)
	require.Len(t, result.Entries, 5)
	require.Equal(t, "C0", result.Entries[0].Symbol)

	data := fetchChart(t, ts, result.URL)
	_, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestTrendingHeatmapLimitValidation(t *testing.T) {
	ts, _ := newTestServer(t, 4)
	for _, limit := range []int{1, 51, -4} {
		resp := callTool(t, ts, "caller-1", "trending_heatmap", map[string]interface{}{"limit": limit})
		require.NotNil(t, resp.Error, "limit %d", limit)
		require.Equal(t, -32602, resp.Error.Code, "limit %d", limit)
	}
}

func TestConcurrencyLimitPerCaller(t *testing.T) {
	ts, provider := newTestServer(t, 1)

	provider.mu.Lock()
	provider.blockOHLCV = make(chan struct{})
	provider.entered = make(chan struct{}, 1)
	provider.mu.Unlock()

	done := make(chan *MCPResponse, 1)
	go func() {
		done <- callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{"symbol": "BTC"})
	}()

	// Wait for the first call to occupy its slot inside the provider.
	select {
	case <-provider.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first call never reached the provider")
	}

	resp := callTool(t, ts, "caller-1", "price_chart", map[string]interface{}{"symbol": "ETH"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32000, resp.Error.Code)
	require.Equal(t, "too_many_requests", resp.Error.Data)

	// Another caller still gets through once the slot frees up.
	close(provider.blockOHLCV)
	first := <-done
	require.Nil(t, first.Error)

	provider.mu.Lock()
	provider.blockOHLCV = nil
	provider.entered = nil
	provider.mu.Unlock()

	resp = callTool(t, ts, "caller-2", "price_chart", map[string]interface{}{"symbol": "ETH"})
	require.Nil(t, resp.Error)
}
