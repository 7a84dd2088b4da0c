// Package alert broadcasts and distributes time-windowed SOS events to the
// same visibility set as the location feed.
package alert

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Collection is the document collection holding SOS events.
const Collection = "sos"

// Indexed attribute names on SOS documents.
const (
	AttrUserID = "user_id"
	AttrTeamID = "team_id"
)

// Window is how long an SOS event stays active. Expiry is a query-time
// filter; events are never deleted by the channel.
const Window = 10 * time.Minute

// ErrInvalidEvent is returned when an SOS document cannot be decoded.
var ErrInvalidEvent = errors.New("invalid sos event")

// SosEvent is a single emergency broadcast. Immutable once created; there is
// no cancelled state, a correction requires a new event.
type SosEvent struct {
	ID        string    `json:"id" cbor:"id"`
	UserID    string    `json:"user_id" cbor:"user_id"`
	TeamID    string    `json:"team_id" cbor:"team_id"`
	Latitude  float64   `json:"latitude" cbor:"latitude"`
	Longitude float64   `json:"longitude" cbor:"longitude"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}

// Active reports whether the event is still inside the alert window at the
// given instant.
func (e SosEvent) Active(now time.Time) bool {
	return now.Sub(e.CreatedAt) <= Window
}

// Event is an SosEvent as delivered on a subscription. Baseline marks events
// that already existed when the subscription was established; only
// non-baseline events warrant an interrupt-style notification.
type Event struct {
	SosEvent
	Baseline bool `json:"baseline"`
}

// EncodeEvent encodes an SOS event for the document payload.
func EncodeEvent(e SosEvent) ([]byte, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode sos event %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEvent decodes an SOS event from a document payload.
func DecodeEvent(payload []byte) (*SosEvent, error) {
	if len(payload) == 0 {
		return nil, ErrInvalidEvent
	}
	var e SosEvent
	dec := cbor.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return &e, nil
}
