package store

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"driftline/server/logging"
	"driftline/server/logging/lifecycle"
)

// Tiered is the PersistenceStore facade: a hot cache consulted first, then
// the configured backends in order. An error from any tier except the last is
// treated as "tier unavailable" and control falls through to the next one; an
// error from the final tier is the caller's problem.
type Tiered struct {
	mu       sync.Mutex
	cache    map[string]cacheEntry
	backends []Backend
	pub      logging.Publisher

	tierErrors     atomic.Uint64
	fallbackWrites atomic.Uint64
}

type cacheEntry struct {
	canonical string
	rec       Record
}

// Stats reports counters surfaced through the diagnostics endpoint.
type Stats struct {
	TierErrors     uint64 `json:"tierErrors"`
	FallbackWrites uint64 `json:"fallbackWrites"`
	CacheEntries   int    `json:"cacheEntries"`
}

// NewTiered builds a store over the given backends, consulted in order.
func NewTiered(pub logging.Publisher, backends ...Backend) *Tiered {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Tiered{
		cache:    make(map[string]cacheEntry),
		backends: backends,
		pub:      pub,
	}
}

// Load returns the record for name and the canonical casing it is stored
// under. ok is false when no tier holds the record.
func (t *Tiered) Load(ctx context.Context, name string) (Record, string, bool, error) {
	key := strings.ToLower(name)

	t.mu.Lock()
	if entry, hit := t.cache[key]; hit {
		rec := entry.rec.Clone()
		canonical := entry.canonical
		t.mu.Unlock()
		return rec, canonical, true, nil
	}
	t.mu.Unlock()

	for i, backend := range t.backends {
		rec, canonical, ok, err := backend.Load(ctx, name)
		if err != nil {
			if i == len(t.backends)-1 {
				return Record{}, "", false, err
			}
			t.noteTierError(ctx, backend, "load", err)
			continue
		}
		if !ok {
			continue
		}
		t.cacheRecord(canonical, rec)
		return rec, canonical, true, nil
	}
	return Record{}, "", false, nil
}

// Save writes through the hot cache unconditionally, then attempts each
// backend in order until one succeeds. A record landing only in a later tier
// than the first is counted as a fallback write; that tier and the skipped
// one can then diverge, which is accepted rather than repaired.
func (t *Tiered) Save(ctx context.Context, name string, rec Record) error {
	t.cacheRecord(name, rec)

	for i, backend := range t.backends {
		err := backend.Save(ctx, name, rec)
		if err == nil {
			if i > 0 {
				t.fallbackWrites.Add(1)
			}
			return nil
		}
		if i == len(t.backends)-1 {
			return err
		}
		t.noteTierError(ctx, backend, "save", err)
	}
	return nil
}

// Stats snapshots the store counters.
func (t *Tiered) Stats() Stats {
	t.mu.Lock()
	entries := len(t.cache)
	t.mu.Unlock()
	return Stats{
		TierErrors:     t.tierErrors.Load(),
		FallbackWrites: t.fallbackWrites.Load(),
		CacheEntries:   entries,
	}
}

func (t *Tiered) cacheRecord(canonical string, rec Record) {
	t.mu.Lock()
	t.cache[strings.ToLower(canonical)] = cacheEntry{canonical: canonical, rec: rec.Clone()}
	t.mu.Unlock()
}

func (t *Tiered) noteTierError(ctx context.Context, backend Backend, op string, err error) {
	t.tierErrors.Add(1)
	lifecycle.StoreFallback(ctx, t.pub, lifecycle.StoreFallbackPayload{
		Tier:      backend.Name(),
		Operation: op,
		Error:     err.Error(),
	})
}
