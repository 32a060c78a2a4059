// Package artifact stores rendered chart images on disk and hands out the
// public URLs they are served from.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

// idPattern accepts the two id shapes we ever mint: a sha256 hex digest for
// keyed charts and a UUID for unkeyed ones. Anything else is rejected before
// it can reach the filesystem.
var idPattern = regexp.MustCompile(`^([a-f0-9]{64}|[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12})$`)

// Publisher writes chart PNGs under a single directory and enforces the
// retention limits on it.
type Publisher struct {
	dir      string
	baseURL  string
	maxCount int
	maxAge   time.Duration
	log      zerolog.Logger

	now func() time.Time
}

// Config bundles the publisher's knobs.
type Config struct {
	Dir      string
	BaseURL  string
	MaxCount int
	MaxAge   time.Duration
}

// NewPublisher creates the chart directory if needed.
func NewPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to create chart directory", err)
	}
	return &Publisher{
		dir:      cfg.Dir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxCount: cfg.MaxCount,
		maxAge:   cfg.MaxAge,
		log:      logger.With().Str("component", "artifact").Logger(),
		now:      time.Now,
	}, nil
}

// Key derives the deterministic artifact id for a normalized request. The
// same chart parameters always map to the same id, which is what makes
// Publish idempotent for repeat requests.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NewID mints a random id for charts published without a request key.
func NewID() string {
	return uuid.NewString()
}

// Lookup reports whether an unexpired artifact is already stored under id,
// returning its public URL on a hit. Callers use it to skip the whole
// fetch-and-render pipeline for a repeat request.
func (p *Publisher) Lookup(id string) (string, bool) {
	if !idPattern.MatchString(id) {
		return "", false
	}
	info, err := os.Stat(p.path(id))
	if err != nil {
		return "", false
	}
	if p.maxAge > 0 && p.now().Sub(info.ModTime()) >= p.maxAge {
		return "", false
	}
	return p.URL(id), true
}

// Publish stores data under id and returns the public URL. If the file
// already exists and is younger than the retention age the bytes on disk are
// kept as-is; the renderer is deterministic, so they are the same bytes.
func (p *Publisher) Publish(id string, data []byte) (string, error) {
	if !idPattern.MatchString(id) {
		return "", errs.Newf(errs.Internal, "refusing to publish malformed artifact id %q", id)
	}
	path := p.path(id)

	if info, err := os.Stat(path); err == nil {
		if p.maxAge <= 0 || p.now().Sub(info.ModTime()) < p.maxAge {
			return p.URL(id), nil
		}
	}

	tmp, err := os.CreateTemp(p.dir, "chart-*.tmp")
	if err != nil {
		return "", errs.Wrap(errs.Internal, "failed to stage chart file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errs.Wrap(errs.Internal, "failed to write chart file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errs.Wrap(errs.Internal, "failed to write chart file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errs.Wrap(errs.Internal, "failed to store chart file", err)
	}

	p.log.Debug().Str("id", id).Int("bytes", len(data)).Msg("chart published")
	p.enforceCount()
	return p.URL(id), nil
}

// Get returns the stored bytes for id. A malformed or unknown id yields
// fs.ErrNotExist so the HTTP layer can answer 404 without distinguishing the
// two cases to the caller.
func (p *Publisher) Get(id string) ([]byte, error) {
	if !idPattern.MatchString(id) {
		return nil, fs.ErrNotExist
	}
	data, err := os.ReadFile(p.path(id))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// URL is the public address a stored chart is served from.
func (p *Publisher) URL(id string) string {
	return fmt.Sprintf("%s/charts?id=%s", p.baseURL, id)
}

// Sweep removes charts older than the retention age and, beyond that, the
// oldest charts past the count limit. It reports how many files were removed.
func (p *Publisher) Sweep() int {
	entries, err := p.list()
	if err != nil {
		p.log.Warn().Err(err).Msg("chart sweep failed to list directory")
		return 0
	}

	removed := 0
	cutoff := p.now().Add(-p.maxAge)
	kept := entries[:0]
	for _, e := range entries {
		if p.maxAge > 0 && e.mtime.Before(cutoff) {
			if os.Remove(e.path) == nil {
				removed++
			}
			continue
		}
		kept = append(kept, e)
	}

	if p.maxCount > 0 && len(kept) > p.maxCount {
		sort.Slice(kept, func(i, j int) bool { return kept[i].mtime.Before(kept[j].mtime) })
		for _, e := range kept[:len(kept)-p.maxCount] {
			if os.Remove(e.path) == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("chart sweep complete")
	}
	return removed
}

// enforceCount drops the oldest charts when the count limit is exceeded. Age
// expiry is left to the scheduled sweep.
func (p *Publisher) enforceCount() {
	if p.maxCount <= 0 {
		return
	}
	entries, err := p.list()
	if err != nil || len(entries) <= p.maxCount {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })
	for _, e := range entries[:len(entries)-p.maxCount] {
		if os.Remove(e.path) == nil {
			p.log.Debug().Str("path", e.path).Msg("evicted chart over count limit")
		}
	}
}

type chartFile struct {
	path  string
	mtime time.Time
}

func (p *Publisher) list() ([]chartFile, error) {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	files := make([]chartFile, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".png") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, chartFile{path: filepath.Join(p.dir, de.Name()), mtime: info.ModTime()})
	}
	return files, nil
}

func (p *Publisher) path(id string) string {
	return filepath.Join(p.dir, id+".png")
}
