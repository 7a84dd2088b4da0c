// Package visibility resolves which teams' positions and alerts a given team
// may currently read. Every feed and alert query is scoped by this set.
package visibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/waypost/waypost/internal/sharing"
)

// ErrPermissionDenied indicates a query escaped the visible-team set. This
// must never happen when the graph is consulted correctly; it is a
// programming-error assertion, not a recoverable condition.
var ErrPermissionDenied = errors.New("permission denied: team outside visible set")

// Graph answers visible-team queries as a pure function of current registry
// state. There is no caching beyond the registry's own notification
// granularity.
type Graph struct {
	registry *sharing.Registry
}

// NewGraph creates a visibility graph over the sharing registry.
func NewGraph(registry *sharing.Registry) *Graph {
	return &Graph{registry: registry}
}

// VisibleTeams returns the set of teams whose data teamID may read: the team
// itself plus every team with a direct inbound grant. Grants do not chain: if
// A shares with B and B shares with C, C does not see A.
func (g *Graph) VisibleTeams(ctx context.Context, teamID string) (map[string]struct{}, error) {
	inbound, err := g.registry.InboundTeams(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("visible teams for %s: %w", teamID, err)
	}
	return AsSet(teamID, inbound), nil
}

// Watch opens a live view of the visible-team set for teamID. Each emission
// from the returned watch is the inbound grant set; combine with AsSet to get
// the full visible set.
func (g *Graph) Watch(ctx context.Context, teamID string) (*sharing.Watch, error) {
	return g.registry.SharedToMe(ctx, teamID)
}

// AsSet builds the visible-team set from a team's own ID and its inbound
// grants. The team always sees itself.
func AsSet(self string, inbound []string) map[string]struct{} {
	set := make(map[string]struct{}, len(inbound)+1)
	set[self] = struct{}{}
	for _, team := range inbound {
		set[team] = struct{}{}
	}
	return set
}

// Assert verifies that teamID is inside the visible set, returning
// ErrPermissionDenied when it is not.
func Assert(visible map[string]struct{}, teamID string) error {
	if _, ok := visible[teamID]; !ok {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, teamID)
	}
	return nil
}
