// Package estimator produces position fixes from a satellite sensor or an
// inertial dead-reckoning fallback, and runs the background tracking loop
// that feeds the location store.
package estimator

import (
	"context"
	"errors"
)

// ErrPositionUnavailable is returned when no fix can be produced within the
// bounded timeout by either source. Callers skip the tick; the estimator
// never retries internally.
var ErrPositionUnavailable = errors.New("position unavailable")

// Heading is the device orientation about the vertical axis, decomposed into
// the pitch and roll components used by the planar dead-reckoning projection.
type Heading struct {
	Pitch float64
	Roll  float64
}

// Sensors is the device sensor collaborator. Implementations wrap the
// platform location and motion APIs.
type Sensors interface {
	// SatelliteFix blocks until a satellite fix is available or the context
	// deadline passes.
	SatelliteFix(ctx context.Context) (lat, lon float64, err error)

	// Heading returns the current device heading. An error means the motion
	// sensors cannot serve the inertial fallback right now.
	Heading() (Heading, error)

	// StepCounts delivers step-count increments while the context is live.
	StepCounts(ctx context.Context) (<-chan int, error)
}
