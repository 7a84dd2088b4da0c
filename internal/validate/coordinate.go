package validate

import (
	"errors"
	"fmt"
)

// Coordinate validation errors
var (
	ErrLatitudeOutOfRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeOutOfRange = errors.New("longitude must be between -180 and 180")
	ErrNegativeRadius      = errors.New("radius must not be negative")
)

// Coordinate validates a latitude/longitude pair in decimal degrees.
func Coordinate(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: got %g", ErrLatitudeOutOfRange, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: got %g", ErrLongitudeOutOfRange, lon)
	}
	return nil
}

// Radius validates a per-axis search radius in coordinate degrees.
func Radius(radius float64) error {
	if radius < 0 {
		return fmt.Errorf("%w: got %g", ErrNegativeRadius, radius)
	}
	return nil
}
