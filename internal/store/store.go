// Package store provides realtime document store primitives: keyed writes,
// filtered snapshot queries, and live change subscriptions. The rest of the
// system treats this as its only persistence surface.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound         = errors.New("document not found")
	ErrSubscriptionLost = errors.New("subscription lost")
	ErrClosed           = errors.New("store closed")
)

// Document is a single keyed record in a collection. Attrs carry the small set
// of indexable fields used by filters; Payload is an opaque encoded body.
type Document struct {
	Collection string            `json:"collection" cbor:"collection"`
	Key        string            `json:"key" cbor:"key"`
	Attrs      map[string]string `json:"attrs,omitempty" cbor:"attrs,omitempty"`
	Payload    []byte            `json:"payload,omitempty" cbor:"payload,omitempty"`

	// Seq orders writes for the same key. A write with Seq > 0 that does not
	// exceed the stored sequence is discarded at the store boundary.
	Seq       int64     `json:"seq" cbor:"seq"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}

// Op identifies the kind of change carried on a subscription.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Change is a single mutation delivered to subscribers. For deletes the
// document carries the last known key and attrs with an empty payload.
type Change struct {
	Op  Op       `json:"op" cbor:"op"`
	Doc Document `json:"doc" cbor:"doc"`
}

// WriteResult reports what a Write actually did.
type WriteResult struct {
	Applied  bool // false when the write was discarded as stale
	Inserted bool // true when a new document was created
}

// Store is the realtime document store contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Write upserts a document by (collection, key). Writes carrying a
	// non-monotonic Seq for an existing key are dropped, not errored: a newer
	// write has already superseded them.
	Write(ctx context.Context, doc Document) (*WriteResult, error)

	// Delete removes a document by key. Deleting an absent key returns
	// ErrNotFound.
	Delete(ctx context.Context, collection, key string) error

	// Get retrieves a single document by key.
	Get(ctx context.Context, collection, key string) (*Document, error)

	// Query returns a snapshot of documents in a collection matching the
	// filter. Order is unspecified; callers sort.
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// Subscribe opens a live change stream for a collection, filtered. The
	// returned subscription must be closed by the caller; Close is idempotent.
	Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error)
}
