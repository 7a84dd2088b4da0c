// Package location keeps the single authoritative current-position record per
// user and answers last-known-position lookups for dead-reckoning seeds.
package location

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Collection is the document collection holding position records.
const Collection = "locations"

// Indexed attribute names on position documents.
const (
	AttrUserID = "user_id"
	AttrTeamID = "team_id"
)

// ErrInvalidRecord is returned when a position document cannot be decoded.
var ErrInvalidRecord = errors.New("invalid position record")

// Source tags where a fix came from.
type Source string

const (
	SourceGPS      Source = "gps"
	SourceInertial Source = "inertial"
	SourceStored   Source = "stored"
)

// Fix is a single estimated geographic position with a source tag.
type Fix struct {
	Latitude  float64 `json:"latitude" cbor:"latitude"`
	Longitude float64 `json:"longitude" cbor:"longitude"`
	Source    Source  `json:"source" cbor:"source"`
}

// PositionRecord is the current position of one user. At most one record
// exists per UserID; every update replaces the prior record.
type PositionRecord struct {
	UserID    string    `json:"user_id" cbor:"user_id"`
	TeamID    string    `json:"team_id" cbor:"team_id"`
	Latitude  float64   `json:"latitude" cbor:"latitude"`
	Longitude float64   `json:"longitude" cbor:"longitude"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`

	// Seq orders writes from the same device so a delayed earlier fix cannot
	// overwrite a later one.
	Seq int64 `json:"seq" cbor:"seq"`
}

// EncodeRecord encodes a position record for the document payload.
func EncodeRecord(rec PositionRecord) ([]byte, error) {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode position record for %s: %w", rec.UserID, err)
	}
	return data, nil
}

// DecodeRecord decodes a position record from a document payload.
func DecodeRecord(payload []byte) (*PositionRecord, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidRecord
	}
	var rec PositionRecord
	dec := cbor.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &rec, nil
}
