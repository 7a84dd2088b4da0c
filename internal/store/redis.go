package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyspacePrefix namespaces all Redis keys and channels used by the store.
const keyspacePrefix = "waypost"

// writeScript performs a compare-and-set on the document sequence so stale
// writes are discarded atomically on the server. KEYS[1] is the collection
// hash, ARGV[1] the document key, ARGV[2] the incoming sequence, ARGV[3] the
// encoded document. Returns {applied, inserted}.
var writeScript = redis.NewScript(`
local seqField = ARGV[1] .. ":seq"
local current = redis.call("HGET", KEYS[1], seqField)
local incoming = tonumber(ARGV[2])
if current and incoming > 0 and incoming <= tonumber(current) then
	return {0, 0}
end
local inserted = 0
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
	inserted = 1
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[1], seqField, ARGV[2])
return {1, inserted}
`)

// RedisStore is a Store backed by Redis: documents live in per-collection
// hashes, change streams ride pub/sub. Documents are CBOR on the wire.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	cancel []context.CancelFunc
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

func hashKey(collection string) string {
	return keyspacePrefix + ":coll:" + collection
}

func channelName(collection string) string {
	return keyspacePrefix + ":changes:" + collection
}

// Write upserts a document, using a server-side script to drop stale
// sequences, then publishes the change.
func (s *RedisStore) Write(ctx context.Context, doc Document) (*WriteResult, error) {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	encoded, err := EncodeDocument(doc)
	if err != nil {
		return nil, err
	}

	res, err := writeScript.Run(ctx, s.client, []string{hashKey(doc.Collection)},
		doc.Key, doc.Seq, encoded).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis write %s/%s: %w", doc.Collection, doc.Key, err)
	}
	result := &WriteResult{
		Applied:  len(res) > 0 && res[0] == 1,
		Inserted: len(res) > 1 && res[1] == 1,
	}
	if !result.Applied {
		return result, nil
	}

	s.publish(ctx, doc.Collection, Change{Op: OpPut, Doc: doc})
	return result, nil
}

// Delete removes a document and publishes a tombstone change.
func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	existing, err := s.Get(ctx, collection, key)
	if err != nil {
		return err
	}

	if err := s.client.HDel(ctx, hashKey(collection), key, key+":seq").Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, key, err)
	}

	tombstone := Document{
		Collection: collection,
		Key:        key,
		Attrs:      existing.Attrs,
		Seq:        existing.Seq,
		UpdatedAt:  time.Now(),
	}
	s.publish(ctx, collection, Change{Op: OpDelete, Doc: tombstone})
	return nil
}

// Get retrieves a single document by key.
func (s *RedisStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	data, err := s.client.HGet(ctx, hashKey(collection), key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	return DecodeDocument(data)
}

// Query scans the collection hash and filters client-side.
func (s *RedisStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if filter == nil {
		filter = None{}
	}
	entries, err := s.client.HGetAll(ctx, hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", collection, err)
	}

	var out []Document
	for field, raw := range entries {
		if len(field) > 4 && field[len(field)-4:] == ":seq" {
			continue
		}
		doc, err := DecodeDocument([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping undecodable document",
				slog.String("collection", collection),
				slog.String("key", field),
				slog.String("error", err.Error()))
			continue
		}
		if filter.Matches(*doc) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// Subscribe opens a pub/sub backed change stream for a collection.
func (s *RedisStore) Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error) {
	if filter == nil {
		filter = None{}
	}

	pubsub := s.client.Subscribe(ctx, channelName(collection))
	// Force the subscription onto the wire before returning so callers do not
	// miss changes between Subscribe and the first Receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", collection, err)
	}

	sub := newSubscription(func(*Subscription) {
		_ = pubsub.Close()
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = append(s.cancel, cancel)
	s.mu.Unlock()

	go func() {
		defer cancel()
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					sub.fail(ErrSubscriptionLost)
					return
				}
				change, err := DecodeChange([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("skipping undecodable change",
						slog.String("collection", collection),
						slog.String("error", err.Error()))
					continue
				}
				if !filter.Matches(change.Doc) {
					continue
				}
				if !sub.deliver(*change) {
					sub.fail(ErrSubscriptionLost)
					return
				}
			}
		}
	}()

	return sub, nil
}

// Close cancels all subscription pumps.
func (s *RedisStore) Close() {
	s.mu.Lock()
	cancels := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// publish sends a change on the collection's channel. Publish failures are
// logged, not surfaced: the write itself already succeeded.
func (s *RedisStore) publish(ctx context.Context, collection string, change Change) {
	data, err := EncodeChange(change)
	if err != nil {
		s.logger.Error("failed to encode change", slog.String("error", err.Error()))
		return
	}
	if err := s.client.Publish(ctx, channelName(collection), data).Err(); err != nil {
		s.logger.Warn("failed to publish change",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
	}
}
