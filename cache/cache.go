// Package cache persists the manifest snapshot for an identity between
// runs. It is a best-effort mirror of server state: a broken or oversized
// record is never an error the caller sees, just a cache miss, and the
// authoritative copy always comes from the server.
package cache

import (
	"log"
	"time"

	"github.com/facebookgo/clock"

	"github.com/viktor-shcherb/pdf-form-filling-app/manifest"
	"github.com/viktor-shcherb/pdf-form-filling-app/store"
)

// Freshness classifies what Read found for an identity.
type Freshness int

const (
	// Miss means there was no usable record.
	Miss Freshness = iota
	// Fresh means the record is younger than the TTL and may be shown
	// without revalidating against the server.
	Fresh
	// Stale means the record may be shown, but a revalidation fetch must
	// be issued.
	Stale
)

const (
	// DefaultTTL is how long a snapshot counts as fresh.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxAge is how long a record may live at all. Records older
	// than this are expired on read, standing in for substrates that
	// expire entries on their own.
	DefaultMaxAge = 24 * time.Hour
)

// keys are "m-" plus the identity, leaving room for other record kinds in
// the same substrate.
const keyPrefix = "m-"

// Cache reads and writes one manifest snapshot per identity.
type Cache struct {
	js     store.JSONStore
	clk    clock.Clock
	ttl    time.Duration
	maxAge time.Duration
}

// New returns a cache over s with the default TTL and max age.
func New(s store.Store) *Cache {
	return NewWithClock(s, clock.New())
}

// NewWithClock is New with a caller-provided clock, for tests.
func NewWithClock(s store.Store, clk clock.Clock) *Cache {
	return &Cache{
		js:     store.NewJSON(s),
		clk:    clk,
		ttl:    DefaultTTL,
		maxAge: DefaultMaxAge,
	}
}

// Read returns the snapshot stored for identity and its freshness. On any
// problem reading or decoding the record it returns a Miss; a record past
// the max age is deleted and also a Miss.
func (c *Cache) Read(identity string) (manifest.Snapshot, Freshness) {
	var snap manifest.Snapshot
	err := c.js.Open(keyPrefix+identity, &snap)
	if err != nil {
		return manifest.Snapshot{}, Miss
	}
	age := c.clk.Now().Sub(snap.SavedAt)
	switch {
	case snap.SavedAt.IsZero() || age > c.maxAge:
		// expired (or never valid); drop the record
		c.js.Delete(keyPrefix + identity)
		return manifest.Snapshot{}, Miss
	case age > c.ttl:
		return snap, Stale
	}
	return snap, Fresh
}

// Write stores the snapshot for identity. Persistence is best effort: on
// failure (including the substrate rejecting the payload for size) the
// error is logged and dropped, and the previous record, if any, is gone.
func (c *Cache) Write(identity string, snap manifest.Snapshot) {
	err := c.js.Save(keyPrefix+identity, snap)
	if err != nil {
		log.Println("manifest cache write:", identity, err)
	}
}
