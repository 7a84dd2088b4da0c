package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waypost/waypost/internal/store"
)

// UpsertResult reports whether an upsert created a new record and whether the
// write was applied at all (stale-sequence writes are dropped).
type UpsertResult struct {
	Applied  bool
	Inserted bool
}

// Writer is the position write contract consumed by the tracking loop.
type Writer interface {
	// Upsert writes the user's current position. Idempotent: retried or
	// duplicate writes never create a second live record for the same user.
	Upsert(ctx context.Context, rec PositionRecord) (*UpsertResult, error)

	// GetLastKnown returns the user's last recorded fix, or a zero fix when
	// none exists. It never fails: the inertial fallback always needs a seed.
	GetLastKnown(ctx context.Context, userID string) Fix
}

// Store keeps position records in the realtime document store, one document
// per user keyed by user ID alone. The key deliberately excludes the team ID:
// a user's team can change without orphaning their record.
type Store struct {
	docs    store.Store
	logger  *slog.Logger
	metrics *Metrics
	mirror  Writer
}

// NewStore creates a position store over the given document store.
func NewStore(docs store.Store, metrics *Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:    docs,
		logger:  logger,
		metrics: metrics,
	}
}

// SetMirror configures a secondary writer, typically the Postgres store, that
// receives every applied upsert best-effort. Mirror failures are logged and
// never fail the primary write.
func (s *Store) SetMirror(w Writer) {
	s.mirror = w
}

// Upsert writes the user's current position, replacing any prior record.
// Writes carrying a stale sequence are discarded at the store boundary and
// reported as not applied; this is not an error, a newer fix already won.
func (s *Store) Upsert(ctx context.Context, rec PositionRecord) (*UpsertResult, error) {
	if rec.UserID == "" {
		return nil, fmt.Errorf("upsert position: empty user id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	payload, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}

	result, err := s.docs.Write(ctx, store.Document{
		Collection: Collection,
		Key:        rec.UserID,
		Attrs: map[string]string{
			AttrUserID: rec.UserID,
			AttrTeamID: rec.TeamID,
		},
		Payload:   payload,
		Seq:       rec.Seq,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert position for %s: %w", rec.UserID, err)
	}

	if s.metrics != nil {
		if result.Applied {
			s.metrics.IncUpserts()
		} else {
			s.metrics.IncStaleDropped()
		}
	}
	if !result.Applied {
		s.logger.Debug("dropped stale position write",
			slog.String("user_id", rec.UserID),
			slog.Int64("seq", rec.Seq))
	}

	if result.Applied && s.mirror != nil {
		if _, err := s.mirror.Upsert(ctx, rec); err != nil {
			s.logger.Warn("position mirror write failed",
				slog.String("user_id", rec.UserID),
				slog.String("error", err.Error()))
		}
	}

	return &UpsertResult{Applied: result.Applied, Inserted: result.Inserted}, nil
}

// GetLastKnown returns the user's last recorded fix. Missing or undecodable
// data yields a zero fix rather than an error.
func (s *Store) GetLastKnown(ctx context.Context, userID string) Fix {
	doc, err := s.docs.Get(ctx, Collection, userID)
	if err != nil {
		if err != store.ErrNotFound {
			s.logger.Warn("failed to read last known position",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return Fix{}
	}
	rec, err := DecodeRecord(doc.Payload)
	if err != nil {
		s.logger.Warn("undecodable position record",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return Fix{}
	}
	return Fix{Latitude: rec.Latitude, Longitude: rec.Longitude, Source: SourceStored}
}

// Snapshot returns all current position records.
func (s *Store) Snapshot(ctx context.Context) ([]PositionRecord, error) {
	docs, err := s.docs.Query(ctx, Collection, store.None{})
	if err != nil {
		return nil, fmt.Errorf("snapshot positions: %w", err)
	}
	out := make([]PositionRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := DecodeRecord(doc.Payload)
		if err != nil {
			s.logger.Warn("skipping undecodable position record",
				slog.String("key", doc.Key),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Watch opens a live change stream over all position documents. The caller
// owns the subscription and must close it.
func (s *Store) Watch(ctx context.Context) (*store.Subscription, error) {
	return s.docs.Subscribe(ctx, Collection, store.None{})
}

// WatchUser opens a live change stream over a single user's position.
func (s *Store) WatchUser(ctx context.Context, userID string) (*store.Subscription, error) {
	return s.docs.Subscribe(ctx, Collection, store.ByAttr{Name: AttrUserID, Value: userID})
}
