package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/validate"
)

// LocationFilter narrows a visible-position snapshot. Exactly one variant is
// in effect per query; combining variants in one request is rejected at parse
// time rather than silently intersected.
type LocationFilter interface {
	isLocationFilter()
}

// FilterNone returns the full visible snapshot.
type FilterNone struct{}

// FilterByUser keeps only the record for one user.
type FilterByUser struct {
	UserID string
}

// FilterByTeam keeps only records belonging to one team.
type FilterByTeam struct {
	TeamID string
}

// FilterByCoordinate keeps records within RadiusDegrees of a point, measured
// per axis in coordinate degrees.
type FilterByCoordinate struct {
	Latitude      float64
	Longitude     float64
	RadiusDegrees float64
}

func (FilterNone) isLocationFilter()         {}
func (FilterByUser) isLocationFilter()       {}
func (FilterByTeam) isLocationFilter()       {}
func (FilterByCoordinate) isLocationFilter() {}

// ParseLocationFilter builds a filter from query parameters. Recognized forms:
// user_id=<id>, team_id=<id>, or lat=<f>&lon=<f>&radius=<f>.
func ParseLocationFilter(values url.Values) (LocationFilter, error) {
	userID := values.Get("user_id")
	teamID := values.Get("team_id")
	hasCoord := values.Has("lat") || values.Has("lon") || values.Has("radius")

	set := 0
	if userID != "" {
		set++
	}
	if teamID != "" {
		set++
	}
	if hasCoord {
		set++
	}
	if set > 1 {
		return nil, fmt.Errorf("at most one of user_id, team_id, or lat/lon/radius may be given")
	}

	switch {
	case userID != "":
		return FilterByUser{UserID: userID}, nil
	case teamID != "":
		return FilterByTeam{TeamID: teamID}, nil
	case hasCoord:
		lat, err := strconv.ParseFloat(values.Get("lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lat: %q", values.Get("lat"))
		}
		lon, err := strconv.ParseFloat(values.Get("lon"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lon: %q", values.Get("lon"))
		}
		radius, err := strconv.ParseFloat(values.Get("radius"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid radius: %q", values.Get("radius"))
		}
		if err := validate.Radius(radius); err != nil {
			return nil, err
		}
		if err := validate.Coordinate(lat, lon); err != nil {
			return nil, err
		}
		return FilterByCoordinate{Latitude: lat, Longitude: lon, RadiusDegrees: radius}, nil
	default:
		return FilterNone{}, nil
	}
}

// ApplyLocationFilter filters an already visibility-checked snapshot. The
// type switch is exhaustive over the LocationFilter variants; an unknown
// variant is a programming error.
func ApplyLocationFilter(filter LocationFilter, records []location.PositionRecord) ([]location.PositionRecord, error) {
	switch f := filter.(type) {
	case FilterNone:
		return records, nil
	case FilterByUser:
		var out []location.PositionRecord
		for _, rec := range records {
			if rec.UserID == f.UserID {
				out = append(out, rec)
			}
		}
		return out, nil
	case FilterByTeam:
		var out []location.PositionRecord
		for _, rec := range records {
			if rec.TeamID == f.TeamID {
				out = append(out, rec)
			}
		}
		return out, nil
	case FilterByCoordinate:
		var out []location.PositionRecord
		for _, rec := range records {
			if math.Abs(rec.Latitude-f.Latitude) <= f.RadiusDegrees &&
				math.Abs(rec.Longitude-f.Longitude) <= f.RadiusDegrees {
				out = append(out, rec)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unhandled location filter %T", filter)
	}
}
