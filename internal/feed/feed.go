// Package feed serves live, visibility-filtered views of current positions
// for a requesting principal.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/store"
	"github.com/waypost/waypost/internal/visibility"
)

// Feed produces position subscriptions scoped by the visibility graph.
type Feed struct {
	locations *location.Store
	graph     *visibility.Graph
	logger    *slog.Logger
	metrics   *Metrics
}

// New creates a feed over the position store and visibility graph.
func New(locations *location.Store, graph *visibility.Graph, metrics *Metrics, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		locations: locations,
		graph:     graph,
		logger:    logger,
		metrics:   metrics,
	}
}

// Subscribe opens a live position view for the principal. Each emission is
// the full filtered snapshot, re-read both when positions change and when the
// visible-team set changes: a newly shared team's existing positions appear
// without waiting for their next update. A principal whose consent flag is
// off sees only their own record regardless of team size.
func (f *Feed) Subscribe(ctx context.Context, principal auth.Principal) (*Subscription, error) {
	var locSub *store.Subscription
	var visWatch visWatcher
	var err error

	if principal.CanViewOthers {
		locSub, err = f.locations.Watch(ctx)
		if err != nil {
			return nil, fmt.Errorf("subscribe feed for %s: %w", principal.UserID, err)
		}
		visWatch, err = f.graph.Watch(ctx, principal.TeamID)
		if err != nil {
			locSub.Close()
			return nil, fmt.Errorf("subscribe feed for %s: %w", principal.UserID, err)
		}
	} else {
		// Opted-out principals only ever see themselves; watching the rest of
		// the store or the sharing graph would be wasted work.
		locSub, err = f.locations.WatchUser(ctx, principal.UserID)
		if err != nil {
			return nil, fmt.Errorf("subscribe feed for %s: %w", principal.UserID, err)
		}
		visWatch = noVisWatch{}
	}

	sub := newSubscription(locSub, visWatch, f.metrics)

	snapshot, err := f.snapshotFor(ctx, principal)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.emit(snapshot)

	go sub.run(func() ([]location.PositionRecord, error) {
		return f.snapshotFor(ctx, principal)
	})

	if f.metrics != nil {
		f.metrics.IncSubscriptions()
	}
	return sub, nil
}

// Snapshot returns the records the principal may currently see, without
// subscribing to further updates.
func (f *Feed) Snapshot(ctx context.Context, principal auth.Principal) ([]location.PositionRecord, error) {
	return f.snapshotFor(ctx, principal)
}

// snapshotFor computes the records the principal may currently see, ordered
// by user ID for stable presentation.
func (f *Feed) snapshotFor(ctx context.Context, principal auth.Principal) ([]location.PositionRecord, error) {
	all, err := f.locations.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []location.PositionRecord
	if principal.CanViewOthers {
		visible, err := f.graph.VisibleTeams(ctx, principal.TeamID)
		if err != nil {
			return nil, err
		}
		for _, rec := range all {
			if _, ok := visible[rec.TeamID]; ok {
				out = append(out, rec)
			}
		}
	} else {
		for _, rec := range all {
			if rec.UserID == principal.UserID {
				out = append(out, rec)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if f.metrics != nil {
		f.metrics.IncSnapshots()
	}
	return out, nil
}
