package render

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
)

func testSeries(n int) *market.Series {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	price := 100.0
	for i := range candles {
		open := price
		close := price + float64((i%5)-2)
		high := open + 3
		low := close - 3
		candles[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000 + float64(i*37),
		}
		price = close
	}
	return &market.Series{
		AssetID:  1,
		Symbol:   "BTC",
		Interval: market.IntervalDaily,
		Days:     n,
		Candles:  candles,
	}
}

func testEntries() []market.TrendingEntry {
	return []market.TrendingEntry{
		{Name: "Bitcoin", Symbol: "BTC", Price: 64231.5, PriceChange24h: 4.2, VolumeChange24h: 1800},
		{Name: "Ethereum", Symbol: "ETH", Price: 3120.8, PriceChange24h: -6.1, VolumeChange24h: 950},
		{Name: "Solana", Symbol: "SOL", Price: 148.2, PriceChange24h: 0.4, VolumeChange24h: 400},
		{Name: "Dogecoin", Symbol: "DOGE", Price: 0.1281, PriceChange24h: 12.7, VolumeChange24h: 60},
		{Name: "Cardano", Symbol: "ADA", Price: 0.4412, PriceChange24h: -1.9, VolumeChange24h: 15},
	}
}

func defaultStyle() Style {
	return Style{Theme: "light", Size: "medium", Title: "BTC / 30d", Watermark: "test"}
}

func TestCandlesDeterministic(t *testing.T) {
	series := testSeries(30)
	a, err := Candles(series, nil, defaultStyle())
	require.NoError(t, err)
	b, err := Candles(series, nil, defaultStyle())
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b), "same inputs must produce identical bytes")
}

func TestCandlesEmptySeries(t *testing.T) {
	_, err := Candles(&market.Series{}, nil, defaultStyle())
	require.Error(t, err)
	require.Equal(t, errs.RenderError, errs.KindOf(err))

	_, err = Candles(nil, nil, defaultStyle())
	require.Error(t, err)
	require.Equal(t, errs.RenderError, errs.KindOf(err))
}

func TestCandlesRejectsUnknownStyle(t *testing.T) {
	series := testSeries(5)

	_, err := Candles(series, nil, Style{Theme: "sepia", Size: "medium"})
	require.Error(t, err)
	require.Equal(t, errs.RenderError, errs.KindOf(err))

	_, err = Candles(series, nil, Style{Theme: "light", Size: "huge"})
	require.Error(t, err)
	require.Equal(t, errs.RenderError, errs.KindOf(err))
}

func TestCandlesSizeScaling(t *testing.T) {
	series := testSeries(30)

	dims := map[string][2]int{
		"small":  {600, 300},
		"medium": {1200, 600},
		"large":  {1800, 900},
	}
	for size, want := range dims {
		data, err := Candles(series, nil, Style{Theme: "light", Size: size})
		require.NoError(t, err, size)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err, size)
		require.Equal(t, want[0], img.Bounds().Dx(), size)
		require.Equal(t, want[1], img.Bounds().Dy(), size)
	}
}

func TestCandlesThemesDiffer(t *testing.T) {
	series := testSeries(10)
	light, err := Candles(series, nil, Style{Theme: "light", Size: "medium"})
	require.NoError(t, err)
	dark, err := Candles(series, nil, Style{Theme: "dark", Size: "medium"})
	require.NoError(t, err)
	require.False(t, bytes.Equal(light, dark))
}

func TestCandlesIconOverlayChangesOutput(t *testing.T) {
	series := testSeries(10)
	plain, err := Candles(series, nil, Style{Theme: "light", Size: "medium"})
	require.NoError(t, err)

	iconBytes, err := Candles(series, nil, Style{Theme: "light", Size: "medium"})
	require.NoError(t, err)
	icon, err := png.Decode(bytes.NewReader(iconBytes))
	require.NoError(t, err)

	withIcon, err := Candles(series, icon, Style{Theme: "light", Size: "medium", OverlayIcon: true})
	require.NoError(t, err)
	require.False(t, bytes.Equal(plain, withIcon))
}

func TestCandlesSingleCandle(t *testing.T) {
	data, err := Candles(testSeries(1), nil, defaultStyle())
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestCandlesFlatPrices(t *testing.T) {
	series := testSeries(10)
	for i := range series.Candles {
		series.Candles[i].Open = 50
		series.Candles[i].High = 50
		series.Candles[i].Low = 50
		series.Candles[i].Close = 50
		series.Candles[i].Volume = 0
	}
	data, err := Candles(series, nil, defaultStyle())
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestHeatmapDeterministic(t *testing.T) {
	entries := testEntries()
	a, err := Heatmap(entries, Style{Theme: "dark", Size: "medium"})
	require.NoError(t, err)
	b, err := Heatmap(entries, Style{Theme: "dark", Size: "medium"})
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b))
}

func TestHeatmapEmpty(t *testing.T) {
	_, err := Heatmap(nil, defaultStyle())
	require.Error(t, err)
	require.Equal(t, errs.RenderError, errs.KindOf(err))
}

func TestHeatmapSingleEntry(t *testing.T) {
	data, err := Heatmap(testEntries()[:1], Style{Theme: "light", Size: "small"})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 600, img.Bounds().Dx())
}

func TestHeatmapExtremeChanges(t *testing.T) {
	entries := []market.TrendingEntry{
		{Symbol: "UP", Price: 1, PriceChange24h: 900, VolumeChange24h: 5000},
		{Symbol: "DOWN", Price: 1, PriceChange24h: -85, VolumeChange24h: 0.2},
		{Symbol: "FLAT", Price: 1, PriceChange24h: 0, VolumeChange24h: 10},
	}
	data, err := Heatmap(entries, Style{Theme: "light", Size: "medium"})
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}
