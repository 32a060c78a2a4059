// Package icons provides a read-through cache for per-asset icon images.
//
// Icons live on disk as <dir>/<asset id>.png, pre-seeded by an administrative
// sync. The store never fetches over the network inside the request path: a
// missing or unreadable icon falls back to a built-in placeholder, so chart
// rendering latency stays bounded.
package icons

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder for icon validation
	_ "image/png"  // register PNG decoder for icon validation
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// Store caches icon bytes keyed by asset id. Safe for concurrent use.
type Store struct {
	dir string
	log zerolog.Logger

	mu    sync.RWMutex
	icons map[int][]byte

	placeholder []byte
}

// NewStore creates a store over the given icon directory. The directory is
// not required to exist; lookups then always return the placeholder.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:         dir,
		log:         logger.With().Str("component", "icons").Logger(),
		icons:       make(map[int][]byte),
		placeholder: buildPlaceholder(),
	}
}

// Get returns the PNG bytes for the asset's icon, falling back to the
// placeholder. It never returns an error.
func (s *Store) Get(assetID int) []byte {
	s.mu.RLock()
	if b, ok := s.icons[assetID]; ok {
		s.mu.RUnlock()
		return b
	}
	s.mu.RUnlock()

	b, err := os.ReadFile(filepath.Join(s.dir, fmt.Sprintf("%d.png", assetID)))
	if err != nil {
		s.log.Debug().Int("asset_id", assetID).Err(err).Msg("icon missing; using placeholder")
		return s.placeholder
	}
	// Reject files that are not decodable images rather than letting a
	// corrupt icon break rendering downstream.
	if _, _, err := image.Decode(bytes.NewReader(b)); err != nil {
		s.log.Warn().Int("asset_id", assetID).Err(err).Msg("icon not decodable; using placeholder")
		return s.placeholder
	}

	s.mu.Lock()
	s.icons[assetID] = b
	s.mu.Unlock()
	return b
}

// Placeholder returns the built-in fallback icon.
func (s *Store) Placeholder() []byte { return s.placeholder }

// Evict drops a cached icon so the next Get re-reads it from disk. Used after
// an administrative icon sync.
func (s *Store) Evict(assetID int) {
	s.mu.Lock()
	delete(s.icons, assetID)
	s.mu.Unlock()
}

// buildPlaceholder renders a neutral coin disc. Deterministic, so charts that
// fall back to it stay byte-reproducible.
func buildPlaceholder() []byte {
	const size = 64
	bg := imaging.New(size, size, color.NRGBA{0, 0, 0, 0})
	center := float64(size-1) / 2
	outer := center * center
	inner := (center - 6) * (center - 6)
	rim := color.NRGBA{158, 158, 158, 255}
	face := color.NRGBA{208, 208, 208, 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - center
			dy := float64(y) - center
			d := dx*dx + dy*dy
			switch {
			case d <= inner:
				bg.SetNRGBA(x, y, face)
			case d <= outer:
				bg.SetNRGBA(x, y, rim)
			}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, bg, imaging.PNG); err != nil {
		// Encoding an in-memory NRGBA cannot fail in practice.
		panic(fmt.Sprintf("encode placeholder icon: %v", err))
	}
	return buf.Bytes()
}
