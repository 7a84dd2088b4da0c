package estimator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/location"
)

// Mode selects the position source.
type Mode int

const (
	// ModeSatellite accepts the external sensor's fix as-is.
	ModeSatellite Mode = iota
	// ModeInertial projects a new position from the last known fix using
	// step counts against heading.
	ModeInertial
)

// DefaultStrideDegrees is the planar degrees-per-step constant for the
// inertial projection. The projection is a coarse approximation valid only
// over short distances; it is not geodesically corrected, and long inertial
// sessions accumulate drift until a satellite fix re-anchors them.
const DefaultStrideDegrees = 0.0008

// DefaultTimeout bounds a single satellite fix attempt.
const DefaultTimeout = 5 * time.Second

// LastKnownSource seeds the inertial fallback. Satisfied by the location
// store; a zero fix is an acceptable seed.
type LastKnownSource interface {
	GetLastKnown(ctx context.Context, userID string) location.Fix
}

// Estimator produces fixes in the currently selected mode. Safe for
// concurrent use; the step accumulator is owned by the estimator and reset on
// every mode switch so a stale accumulation never leaks across modes.
type Estimator struct {
	sensors   Sensors
	lastKnown LastKnownSource
	userID    string
	stride    float64
	timeout   time.Duration

	mu    sync.Mutex
	mode  Mode
	steps int
}

// New creates an estimator for one user's device.
func New(sensors Sensors, lastKnown LastKnownSource, userID string) *Estimator {
	return &Estimator{
		sensors:   sensors,
		lastKnown: lastKnown,
		userID:    userID,
		stride:    DefaultStrideDegrees,
		timeout:   DefaultTimeout,
	}
}

// SetStride overrides the degrees-per-step constant.
func (e *Estimator) SetStride(stride float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stride > 0 {
		e.stride = stride
	}
}

// SetTimeout overrides the satellite fix timeout.
func (e *Estimator) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.timeout = d
	}
}

// Mode returns the current mode.
func (e *Estimator) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the position source. The step accumulator is always
// cleared: readings gathered in the previous mode must not project into the
// next one.
func (e *Estimator) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
	e.steps = 0
}

// AddSteps feeds step-count increments from the pedometer. Only consumed in
// inertial mode; satellite-mode steps are discarded on the next mode switch.
func (e *Estimator) AddSteps(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps += n
}

// Estimate produces a fix in the current mode, falling back from satellite to
// inertial when the sensor cannot deliver in time. It never blocks beyond the
// configured timeout. When neither source can produce a fix it fails with
// ErrPositionUnavailable.
func (e *Estimator) Estimate(ctx context.Context) (location.Fix, error) {
	e.mu.Lock()
	mode := e.mode
	timeout := e.timeout
	e.mu.Unlock()

	if mode == ModeSatellite {
		fix, err := e.satelliteFix(ctx, timeout)
		if err == nil {
			return fix, nil
		}
		// Satellite exhausted; try dead reckoning before giving up.
		if fix, ierr := e.inertialFix(ctx); ierr == nil {
			return fix, nil
		}
		return location.Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}

	fix, err := e.inertialFix(ctx)
	if err != nil {
		return location.Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	return fix, nil
}

// satelliteFix asks the external sensor for a fix within the timeout.
func (e *Estimator) satelliteFix(ctx context.Context, timeout time.Duration) (location.Fix, error) {
	fixCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lat, lon, err := e.sensors.SatelliteFix(fixCtx)
	if err != nil {
		return location.Fix{}, err
	}
	return location.Fix{Latitude: lat, Longitude: lon, Source: location.SourceGPS}, nil
}

// inertialFix projects a new position from the last known fix: the
// accumulated step count times stride length, split across latitude and
// longitude by the heading's pitch and roll components. Consuming the
// accumulator resets it so the same steps are never integrated twice.
func (e *Estimator) inertialFix(ctx context.Context) (location.Fix, error) {
	heading, err := e.sensors.Heading()
	if err != nil {
		return location.Fix{}, fmt.Errorf("heading unavailable: %w", err)
	}

	seed := e.lastKnown.GetLastKnown(ctx, e.userID)

	e.mu.Lock()
	steps := e.steps
	e.steps = 0
	stride := e.stride
	e.mu.Unlock()

	travel := float64(steps) * stride
	return location.Fix{
		Latitude:  seed.Latitude + heading.Pitch*travel,
		Longitude: seed.Longitude + heading.Roll*travel,
		Source:    location.SourceInertial,
	}, nil
}
