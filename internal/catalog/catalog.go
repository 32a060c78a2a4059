// Package catalog resolves user-supplied asset references against the locally
// cached coin-list snapshot.
//
// The snapshot is an array of provider map entries (id, symbol, slug, name,
// rank) loaded once at startup. Lookups are case-insensitive and never touch
// the network. Refresh replaces the whole snapshot atomically; readers always
// see either the old or the new index in full.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

// Asset is one entry of the coin-list snapshot. Immutable once loaded.
type Asset struct {
	ID     int    `json:"id"`
	Symbol string `json:"symbol"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Rank   int    `json:"rank"`
}

// snapshot is the immutable index built from one coin list. A new snapshot is
// built off to the side and swapped in with a single pointer store.
type snapshot struct {
	assets   []Asset
	bySymbol map[string]Asset
	bySlug   map[string]Asset
	byName   map[string]Asset
}

// Catalog is safe for unsynchronized concurrent reads.
type Catalog struct {
	path string
	snap atomic.Pointer[snapshot]
	log  zerolog.Logger
}

// New loads the snapshot file at path. A missing file degrades to an empty
// catalog (every resolve fails with UnknownAsset) rather than an error, so
// the server still starts and can be refreshed later.
func New(path string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{path: path, log: logger.With().Str("component", "catalog").Logger()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.log.Warn().Str("path", path).Msg("coin list snapshot missing; catalog starts empty")
		c.snap.Store(buildSnapshot(nil))
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read coin list: %w", err)
	}

	var assets []Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parse coin list: %w", err)
	}

	c.snap.Store(buildSnapshot(assets))
	c.log.Info().Int("assets", len(assets)).Msg("coin list snapshot loaded")
	return c, nil
}

// buildSnapshot indexes the assets. When two assets share a symbol or name,
// the better-ranked one wins (rank 0 means unranked and always loses).
func buildSnapshot(assets []Asset) *snapshot {
	s := &snapshot{
		assets:   assets,
		bySymbol: make(map[string]Asset, len(assets)),
		bySlug:   make(map[string]Asset, len(assets)),
		byName:   make(map[string]Asset, len(assets)),
	}
	for _, a := range assets {
		putBest(s.bySymbol, strings.ToLower(a.Symbol), a)
		putBest(s.bySlug, strings.ToLower(a.Slug), a)
		putBest(s.byName, strings.ToLower(a.Name), a)
	}
	return s
}

func putBest(m map[string]Asset, key string, a Asset) {
	if key == "" {
		return
	}
	cur, ok := m[key]
	if !ok {
		m[key] = a
		return
	}
	if a.Rank > 0 && (cur.Rank == 0 || a.Rank < cur.Rank) {
		m[key] = a
	}
}

// Resolve maps a user-supplied reference to an Asset. The reference is
// matched case-insensitively against symbols first, then slugs, then names.
// A leading "$" is tolerated ("$well" resolves like "well").
func (c *Catalog) Resolve(text string) (Asset, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.TrimPrefix(key, "$")
	if key == "" {
		return Asset{}, errs.New(errs.InvalidArgument, "asset reference cannot be empty")
	}

	s := c.snap.Load()
	if a, ok := s.bySymbol[key]; ok {
		return a, nil
	}
	if a, ok := s.bySlug[key]; ok {
		return a, nil
	}
	if a, ok := s.byName[key]; ok {
		return a, nil
	}
	return Asset{}, errs.Newf(errs.UnknownAsset,
		"token %q not found; provide a valid cryptocurrency symbol or slug", text)
}

// Len reports the number of assets in the current snapshot.
func (c *Catalog) Len() int {
	return len(c.snap.Load().assets)
}

// Lister fetches the live coin list from the market-data provider.
type Lister interface {
	ListAssets(ctx context.Context) ([]Asset, error)
}

// Refresh fetches a new coin list, persists it next to the old snapshot file
// and hot-swaps the in-memory index. On any failure the previous snapshot
// stays in place.
func (c *Catalog) Refresh(ctx context.Context, lister Lister) error {
	assets, err := lister.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		return fmt.Errorf("provider returned empty coin list")
	}

	if err := c.persist(assets); err != nil {
		// Swap anyway: the fresh data is better than the stale file.
		c.log.Error().Err(err).Msg("persist refreshed coin list failed")
	}

	c.snap.Store(buildSnapshot(assets))
	c.log.Info().Int("assets", len(assets)).Msg("coin list snapshot refreshed")
	return nil
}

// persist writes the snapshot file atomically (temp file + rename).
func (c *Catalog) persist(assets []Asset) error {
	data, err := json.Marshal(assets)
	if err != nil {
		return fmt.Errorf("marshal coin list: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".coinlist-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
