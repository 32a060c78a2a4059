package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wellaios/crypto-chart-mcp/internal/catalog"
	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

// Provider is the outbound surface the fetcher needs. *Client implements it;
// tests substitute fakes.
type Provider interface {
	OHLCV(ctx context.Context, symbol string, interval Interval, count int) ([]Candle, error)
	LatestQuote(ctx context.Context, symbol string) (Candle, error)
	Trending(ctx context.Context, limit int) ([]TrendingEntry, error)
}

// seriesKey identifies one cached price series.
type seriesKey struct {
	AssetID  int
	Interval Interval
	Days     int
}

func (k seriesKey) String() string {
	return fmt.Sprintf("%d|%s|%d", k.AssetID, k.Interval, k.Days)
}

type seriesEntry struct {
	series    *Series
	expiresAt time.Time
}

type trendingEntry struct {
	entries   []TrendingEntry
	expiresAt time.Time
}

// FetcherConfig bounds the cache behavior.
type FetcherConfig struct {
	// TTL is how long a cached series is served without a refresh attempt.
	TTL time.Duration
	// StaleGrace is how far past TTL a series may still be served, marked
	// degraded, when the provider fails.
	StaleGrace time.Duration
	// FetchTimeout bounds one outbound provider fetch.
	FetchTimeout time.Duration
}

// Fetcher caches price series per (asset, interval, range) key and collapses
// concurrent identical fetches into a single provider call.
//
// Locking is around the index maps only; cached *Series values are immutable
// and replaced atomically, never mutated in place.
type Fetcher struct {
	provider Provider
	cfg      FetcherConfig
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	series   map[seriesKey]seriesEntry
	trending map[int]trendingEntry

	flight singleflight.Group
}

// NewFetcher creates a fetcher over the given provider.
func NewFetcher(provider Provider, cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Fetcher{
		provider: provider,
		cfg:      cfg,
		log:      logger.With().Str("component", "market.fetcher").Logger(),
		now:      time.Now,
		series:   make(map[seriesKey]seriesEntry),
		trending: make(map[int]trendingEntry),
	}
}

// Fetch returns the price series for the asset, serving from cache within
// TTL. Concurrent misses for the same key share one provider call.
func (f *Fetcher) Fetch(ctx context.Context, asset catalog.Asset, interval Interval, days int) (*Series, error) {
	key := seriesKey{AssetID: asset.ID, Interval: interval, Days: days}

	if s := f.cachedSeries(key, false); s != nil {
		return s, nil
	}

	v, err, _ := f.flight.Do(key.String(), func() (any, error) {
		// A waiter that queued behind the winning fetch finds the fresh
		// entry here and skips the network entirely.
		if s := f.cachedSeries(key, false); s != nil {
			return s, nil
		}
		return f.fetchSeries(ctx, asset, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Series), nil
}

// cachedSeries returns the cached series for key if it is inside TTL, or, when
// stale is true, inside the stale-grace window (marked degraded).
func (f *Fetcher) cachedSeries(key seriesKey, stale bool) *Series {
	f.mu.RLock()
	e, ok := f.series[key]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	now := f.now()
	if now.Before(e.expiresAt) {
		return e.series
	}
	if stale && now.Before(e.expiresAt.Add(f.cfg.StaleGrace)) {
		degraded := *e.series
		degraded.Degraded = true
		return &degraded
	}
	return nil
}

// fetchSeries performs the actual provider round trip for one key. The fetch
// is detached from the caller's cancellation: a transport disconnect lets the
// in-flight call complete so other waiters (and the cache) still get the
// result. The registry's release path handles the disconnected caller.
func (f *Fetcher) fetchSeries(ctx context.Context, asset catalog.Asset, key seriesKey) (*Series, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.FetchTimeout)
	defer cancel()

	count := key.Days
	if key.Interval == IntervalHourly {
		count = key.Days * 24
		if count > 500 {
			count = 500
		}
	}

	candles, err := f.provider.OHLCV(fctx, asset.Symbol, key.Interval, count)
	if err != nil {
		if s := f.cachedSeries(key, true); s != nil {
			f.log.Warn().Err(err).Str("key", key.String()).
				Msg("provider fetch failed; serving stale series within grace window")
			return s, nil
		}
		return nil, errs.Wrap(errs.DataUnavailable, "market data is currently unavailable", err)
	}

	// Append the in-progress candle the way the original concatenates the
	// latest quote onto the historical window. Its absence is not fatal.
	if latest, lerr := f.provider.LatestQuote(fctx, asset.Symbol); lerr != nil {
		f.log.Warn().Err(lerr).Str("symbol", asset.Symbol).Msg("latest quote unavailable; series ends at last closed candle")
	} else if len(candles) == 0 || latest.Timestamp.After(candles[len(candles)-1].Timestamp) {
		candles = append(candles, latest)
	}

	now := f.now()
	s := &Series{
		AssetID:   asset.ID,
		Symbol:    asset.Symbol,
		Interval:  key.Interval,
		Days:      key.Days,
		Candles:   candles,
		FetchedAt: now,
	}

	f.mu.Lock()
	f.series[key] = seriesEntry{series: s, expiresAt: now.Add(f.cfg.TTL)}
	f.pruneLocked(now)
	f.mu.Unlock()

	return s, nil
}

// Trending returns the provider's trending list, cached with the same TTL
// and single-flight discipline as price series.
func (f *Fetcher) Trending(ctx context.Context, limit int) ([]TrendingEntry, error) {
	f.mu.RLock()
	e, ok := f.trending[limit]
	f.mu.RUnlock()
	if ok && f.now().Before(e.expiresAt) {
		return e.entries, nil
	}

	v, err, _ := f.flight.Do(fmt.Sprintf("trending|%d", limit), func() (any, error) {
		f.mu.RLock()
		e, ok := f.trending[limit]
		f.mu.RUnlock()
		if ok && f.now().Before(e.expiresAt) {
			return e.entries, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.FetchTimeout)
		defer cancel()

		entries, ferr := f.provider.Trending(fctx, limit)
		if ferr != nil {
			return nil, errs.Wrap(errs.DataUnavailable, "trending data is currently unavailable", ferr)
		}
		f.mu.Lock()
		f.trending[limit] = trendingEntry{entries: entries, expiresAt: f.now().Add(f.cfg.TTL)}
		f.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]TrendingEntry), nil
}

// pruneLocked drops entries expired beyond the grace window. Called with the
// write lock held; keeps the maps from growing without bound.
func (f *Fetcher) pruneLocked(now time.Time) {
	for k, e := range f.series {
		if now.After(e.expiresAt.Add(f.cfg.StaleGrace)) {
			delete(f.series, k)
		}
	}
	for k, e := range f.trending {
		if now.After(e.expiresAt) {
			delete(f.trending, k)
		}
	}
}
