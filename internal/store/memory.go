package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. Thread-safe via RWMutex.
// It is the default backend for tests and single-process deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document // collection -> key -> doc
	subs        map[string]map[*Subscription]Filter
	closed      bool
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*Document),
		subs:        make(map[string]map[*Subscription]Filter),
	}
}

// Write upserts a document, discarding stale sequences.
func (s *MemoryStore) Write(ctx context.Context, doc Document) (*WriteResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	coll, ok := s.collections[doc.Collection]
	if !ok {
		coll = make(map[string]*Document)
		s.collections[doc.Collection] = coll
	}

	existing, exists := coll[doc.Key]
	if exists && doc.Seq > 0 && doc.Seq <= existing.Seq {
		// A newer write already superseded this one.
		s.mu.Unlock()
		return &WriteResult{Applied: false, Inserted: false}, nil
	}

	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	docCopy := doc
	coll[doc.Key] = &docCopy

	notify := s.matchingSubsLocked(doc.Collection, docCopy)
	s.mu.Unlock()

	s.dispatch(notify, Change{Op: OpPut, Doc: docCopy})

	return &WriteResult{Applied: true, Inserted: !exists}, nil
}

// Delete removes a document and notifies subscribers with a tombstone change.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	coll, ok := s.collections[collection]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	doc, ok := coll[key]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(coll, key)

	tombstone := Document{
		Collection: collection,
		Key:        key,
		Attrs:      doc.Attrs,
		Seq:        doc.Seq,
		UpdatedAt:  time.Now(),
	}
	notify := s.matchingSubsLocked(collection, tombstone)
	s.mu.Unlock()

	s.dispatch(notify, Change{Op: OpDelete, Doc: tombstone})
	return nil
}

// Get retrieves a single document copy by key.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := coll[key]
	if !ok {
		return nil, ErrNotFound
	}
	docCopy := *doc
	return &docCopy, nil
}

// Query returns copies of all documents matching the filter.
func (s *MemoryStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter == nil {
		filter = None{}
	}
	var out []Document
	for _, doc := range s.collections[collection] {
		if filter.Matches(*doc) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// Subscribe registers a filtered live change stream for a collection.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if filter == nil {
		filter = None{}
	}

	sub := newSubscription(func(sub *Subscription) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if conns, ok := s.subs[collection]; ok {
			delete(conns, sub)
			if len(conns) == 0 {
				delete(s.subs, collection)
			}
		}
	})

	if s.subs[collection] == nil {
		s.subs[collection] = make(map[*Subscription]Filter)
	}
	s.subs[collection][sub] = filter

	return sub, nil
}

// Close terminates all subscriptions and rejects further writes.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	var all []*Subscription
	for _, conns := range s.subs {
		for sub := range conns {
			all = append(all, sub)
		}
	}
	s.subs = make(map[string]map[*Subscription]Filter)
	s.mu.Unlock()

	for _, sub := range all {
		sub.fail(ErrSubscriptionLost)
	}
}

// matchingSubsLocked collects subscribers whose filter matches the document.
// Caller must hold s.mu.
func (s *MemoryStore) matchingSubsLocked(collection string, doc Document) []*Subscription {
	var notify []*Subscription
	for sub, filter := range s.subs[collection] {
		if filter.Matches(doc) {
			notify = append(notify, sub)
		}
	}
	return notify
}

// dispatch delivers a change to subscribers outside the store lock. A
// subscriber that cannot keep up is failed with ErrSubscriptionLost.
func (s *MemoryStore) dispatch(subs []*Subscription, change Change) {
	for _, sub := range subs {
		if !sub.deliver(change) {
			sub.fail(ErrSubscriptionLost)
		}
	}
}
