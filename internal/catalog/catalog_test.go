package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

func writeSnapshot(t *testing.T, assets []Asset) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coins.json")
	data, err := json.Marshal(assets)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testAssets() []Asset {
	return []Asset{
		{ID: 1, Symbol: "BTC", Slug: "bitcoin", Name: "Bitcoin", Rank: 1},
		{ID: 1027, Symbol: "ETH", Slug: "ethereum", Name: "Ethereum", Rank: 2},
		{ID: 555, Symbol: "WELL", Slug: "wellaios", Name: "WELL Token", Rank: 900},
		// Duplicate symbol with worse rank: must lose to real BTC.
		{ID: 9999, Symbol: "BTC", Slug: "fake-bitcoin", Name: "Fake Bitcoin", Rank: 4200},
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	for _, ref := range []string{"BTC", "btc", "Btc", "bitcoin", "BITCOIN", "Bitcoin"} {
		a, err := c.Resolve(ref)
		require.NoError(t, err, "ref %q", ref)
		require.Equal(t, 1, a.ID, "ref %q", ref)
	}
}

func TestResolve_DollarPrefix(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	a, err := c.Resolve("$well")
	require.NoError(t, err)
	require.Equal(t, 555, a.ID)
}

func TestResolve_RankBreaksSymbolTie(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	a, err := c.Resolve("btc")
	require.NoError(t, err)
	require.Equal(t, 1, a.ID)

	// The worse-ranked duplicate is still reachable by its own slug.
	a, err = c.Resolve("fake-bitcoin")
	require.NoError(t, err)
	require.Equal(t, 9999, a.ID)
}

func TestResolve_Unknown(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Resolve("NOTACOIN")
	require.Error(t, err)
	require.Equal(t, errs.UnknownAsset, errs.KindOf(err))
}

func TestResolve_Empty(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Resolve("  ")
	require.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestNew_MissingFileStartsEmpty(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())

	_, err = c.Resolve("btc")
	require.Equal(t, errs.UnknownAsset, errs.KindOf(err))
}

type fakeLister struct {
	assets []Asset
	err    error
}

func (f fakeLister) ListAssets(context.Context) ([]Asset, error) { return f.assets, f.err }

func TestRefresh_SwapsAndPersists(t *testing.T) {
	path := writeSnapshot(t, testAssets())
	c, err := New(path, zerolog.Nop())
	require.NoError(t, err)

	fresh := []Asset{{ID: 42, Symbol: "NEW", Slug: "newcoin", Name: "NewCoin", Rank: 7}}
	require.NoError(t, c.Refresh(context.Background(), fakeLister{assets: fresh}))

	// Old entries are gone, the new one resolves.
	_, err = c.Resolve("btc")
	require.Equal(t, errs.UnknownAsset, errs.KindOf(err))
	a, err := c.Resolve("new")
	require.NoError(t, err)
	require.Equal(t, 42, a.ID)

	// The snapshot file was rewritten.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var persisted []Asset
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	require.Equal(t, "NEW", persisted[0].Symbol)
}

func TestRefresh_KeepsOldSnapshotOnError(t *testing.T) {
	c, err := New(writeSnapshot(t, testAssets()), zerolog.Nop())
	require.NoError(t, err)

	require.Error(t, c.Refresh(context.Background(), fakeLister{err: os.ErrDeadlineExceeded}))

	a, err := c.Resolve("btc")
	require.NoError(t, err)
	require.Equal(t, 1, a.ID)
}
