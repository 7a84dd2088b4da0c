package location

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PostgresStore implements Writer against a Postgres table. It is the durable
// mirror used where the realtime document store is not the system of record.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Upsert writes the user's current position. The ON CONFLICT guard only
// applies the update when the incoming sequence is greater, so stale writes
// are discarded server-side.
func (s *PostgresStore) Upsert(ctx context.Context, rec PositionRecord) (*UpsertResult, error) {
	if rec.UserID == "" {
		return nil, fmt.Errorf("upsert position: empty user id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	query := `INSERT INTO positions (user_id, team_id, latitude, longitude, seq, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (user_id) DO UPDATE
	          SET team_id = EXCLUDED.team_id,
	              latitude = EXCLUDED.latitude,
	              longitude = EXCLUDED.longitude,
	              seq = EXCLUDED.seq,
	              updated_at = EXCLUDED.updated_at
	          WHERE EXCLUDED.seq > positions.seq
	          RETURNING (xmax = 0)`

	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		rec.UserID, rec.TeamID, rec.Latitude, rec.Longitude, rec.Seq, rec.UpdatedAt,
	).Scan(&inserted)
	if err == sql.ErrNoRows {
		// Conflict guard rejected the write: a newer sequence is stored.
		s.logger.Debug("dropped stale position write",
			slog.String("user_id", rec.UserID),
			slog.Int64("seq", rec.Seq))
		return &UpsertResult{Applied: false, Inserted: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("upsert position for %s: %w", rec.UserID, err)
	}
	return &UpsertResult{Applied: true, Inserted: inserted}, nil
}

// GetLastKnown returns the user's last recorded fix, or a zero fix when none
// exists or the read fails.
func (s *PostgresStore) GetLastKnown(ctx context.Context, userID string) Fix {
	var fix Fix
	query := `SELECT latitude, longitude FROM positions WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&fix.Latitude, &fix.Longitude)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("failed to read last known position",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return Fix{}
	}
	fix.Source = SourceStored
	return fix
}
