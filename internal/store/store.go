// Package store implements the tiered persistence layer for player records:
// a process-local hot cache in front of an ordered list of backends (remote
// keyed store, then local fallback file), each one a full fallback for the
// tier before it.
package store

import (
	"context"
	"fmt"
	"net/url"

	"driftline/server/internal/state"
)

// Record is the durable entity stored per player name: the shared secret
// established at first contact plus the opaque saved progress.
type Record struct {
	Passcode string     `json:"passcode"`
	State    state.Blob `json:"state"`
}

// Clone deep-copies the record so cached values never alias caller state.
func (r Record) Clone() Record {
	return Record{Passcode: r.Passcode, State: r.State.Clone()}
}

// Backend is one storage tier. Load prefers an exact-case match on name and
// falls back to a case-insensitive one; canonical reports the stored casing so
// callers can recover it after a case-insensitive hit. A (Record{}, "", false,
// nil) result means the record is absent from this tier, while a non-nil error
// means the tier itself is unavailable.
type Backend interface {
	Name() string
	Load(ctx context.Context, name string) (rec Record, canonical string, ok bool, err error)
	Save(ctx context.Context, name string, rec Record) error
}

// OpenRemote constructs the remote backend named by rawURL. The scheme picks
// the driver: redis:// and rediss:// open a Redis backend, mongodb:// and
// mongodb+srv:// open a Mongo backend. key is an optional credential applied
// on top of whatever the URL carries.
func OpenRemote(ctx context.Context, rawURL, key string) (Backend, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote store url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss":
		return NewRedisBackend(rawURL, key)
	case "mongodb", "mongodb+srv":
		return NewMongoBackend(ctx, rawURL, key)
	default:
		return nil, fmt.Errorf("unsupported remote store scheme %q", parsed.Scheme)
	}
}
