package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/store"
	"github.com/waypost/waypost/internal/visibility"
)

// Channel broadcasts SOS events and distributes them to subscribers scoped by
// the visibility graph.
type Channel struct {
	docs    store.Store
	graph   *visibility.Graph
	logger  *slog.Logger
	metrics *Metrics

	// now is injectable for window tests.
	now func() time.Time
}

// NewChannel creates an alert channel over the given document store and
// visibility graph.
func NewChannel(docs store.Store, graph *visibility.Graph, metrics *Metrics, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		docs:    docs,
		graph:   graph,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the channel's time source. Intended for tests.
func (c *Channel) SetClock(now func() time.Time) {
	c.now = now
}

// Broadcast creates a new SOS event. Failures are surfaced to the caller:
// silent failure of an emergency signal is unacceptable.
func (c *Channel) Broadcast(ctx context.Context, userID, teamID string, lat, lon float64) (*SosEvent, error) {
	if userID == "" || teamID == "" {
		return nil, fmt.Errorf("broadcast sos: empty user or team id")
	}

	event := SosEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		TeamID:    teamID,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: c.now(),
	}
	payload, err := EncodeEvent(event)
	if err != nil {
		return nil, err
	}

	_, err = c.docs.Write(ctx, store.Document{
		Collection: Collection,
		Key:        event.ID,
		Attrs: map[string]string{
			AttrUserID: event.UserID,
			AttrTeamID: event.TeamID,
		},
		Payload:   payload,
		UpdatedAt: event.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast sos for %s: %w", userID, err)
	}

	if c.metrics != nil {
		c.metrics.IncBroadcasts()
	}
	c.logger.Info("sos broadcast",
		slog.String("user_id", userID),
		slog.String("team_id", teamID))
	return &event, nil
}

// Subscribe opens a live SOS stream for the principal. The initial snapshot
// is delivered most-recent-first with Baseline set: subscribers must not
// treat backlog as fresh alerts. Only events created after the subscription
// is established arrive with Baseline unset. Visibility is evaluated at read
// time against the current sharing state.
func (c *Channel) Subscribe(ctx context.Context, principal auth.Principal) (*Subscription, error) {
	docSub, err := c.docs.Subscribe(ctx, Collection, store.None{})
	if err != nil {
		return nil, fmt.Errorf("subscribe alerts for %s: %w", principal.UserID, err)
	}

	sub := newSubscription(docSub, c.metrics)

	baseline, err := c.visibleEvents(ctx, principal)
	if err != nil {
		sub.Close()
		return nil, err
	}
	for _, e := range baseline {
		sub.emit(Event{SosEvent: e, Baseline: true})
	}

	go sub.run(ctx, c, principal)

	if c.metrics != nil {
		c.metrics.IncSubscriptions()
	}
	return sub, nil
}

// Events returns the in-window events the principal may read, ordered
// most-recent-first.
func (c *Channel) Events(ctx context.Context, principal auth.Principal) ([]SosEvent, error) {
	return c.visibleEvents(ctx, principal)
}

// ActiveUserIDs returns the users with an in-window SOS visible to the
// principal. The presentation layer uses this to flag map markers.
func (c *Channel) ActiveUserIDs(ctx context.Context, principal auth.Principal) (map[string]struct{}, error) {
	events, err := c.visibleEvents(ctx, principal)
	if err != nil {
		return nil, err
	}
	users := make(map[string]struct{}, len(events))
	for _, e := range events {
		users[e.UserID] = struct{}{}
	}
	return users, nil
}

// visibleEvents returns the in-window events the principal may read, ordered
// most-recent-first.
func (c *Channel) visibleEvents(ctx context.Context, principal auth.Principal) ([]SosEvent, error) {
	visible, err := c.graph.VisibleTeams(ctx, principal.TeamID)
	if err != nil {
		return nil, err
	}

	docs, err := c.docs.Query(ctx, Collection, store.None{})
	if err != nil {
		return nil, fmt.Errorf("query sos events: %w", err)
	}

	now := c.now()
	var events []SosEvent
	for _, doc := range docs {
		event, err := DecodeEvent(doc.Payload)
		if err != nil {
			c.logger.Warn("skipping undecodable sos event",
				slog.String("key", doc.Key),
				slog.String("error", err.Error()))
			continue
		}
		if !c.admits(principal, visible, *event, now) {
			continue
		}
		events = append(events, *event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

// admits applies the window, the visible-team set, and the principal's own
// consent flag to one event.
func (c *Channel) admits(principal auth.Principal, visible map[string]struct{}, event SosEvent, now time.Time) bool {
	if !event.Active(now) {
		return false
	}
	if !principal.CanViewOthers && event.UserID != principal.UserID {
		return false
	}
	_, ok := visible[event.TeamID]
	return ok
}
