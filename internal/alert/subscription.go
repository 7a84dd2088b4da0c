package alert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/store"
)

// eventBuffer bounds queued events per subscriber. Backlog plus live alerts
// for one principal comfortably fit; a stuck consumer is failed instead of
// blocking the channel.
const eventBuffer = 128

// Subscription is a live SOS stream handle. Owned by the caller; Close is
// idempotent and safe under repeated foreground/background resubscribes.
type Subscription struct {
	docSub  *store.Subscription
	events  chan Event
	errs    chan error
	metrics *Metrics

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscription(docSub *store.Subscription, metrics *Metrics) *Subscription {
	return &Subscription{
		docSub:  docSub,
		events:  make(chan Event, eventBuffer),
		errs:    make(chan error, 1),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Events returns the stream of SOS events, baseline snapshot first.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err delivers at most one terminal error; the caller resubscribes.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Close releases the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.docSub.Close()
		if s.metrics != nil {
			s.metrics.DecSubscriptions()
		}
	})
}

// emit queues an event without blocking; a full buffer fails the stream.
func (s *Subscription) emit(e Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
	s.Close()
}

// run pumps store changes into subscriber events. Visibility is re-resolved
// per event so a grant revoked after broadcast hides the sender's future
// events without retroactively unsending past deliveries.
// run is the only sender on the events channel and closes it on exit.
func (s *Subscription) run(ctx context.Context, c *Channel, principal auth.Principal) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case err := <-s.docSub.Err():
			s.fail(err)
			return
		case change, ok := <-s.docSub.Changes():
			if !ok {
				select {
				case <-s.done:
				default:
					s.fail(store.ErrSubscriptionLost)
				}
				return
			}
			if change.Op != store.OpPut {
				continue
			}
			event, err := DecodeEvent(change.Doc.Payload)
			if err != nil {
				c.logger.Warn("skipping undecodable sos event",
					slog.String("key", change.Doc.Key),
					slog.String("error", err.Error()))
				continue
			}
			visible, err := c.graph.VisibleTeams(ctx, principal.TeamID)
			if err != nil {
				s.fail(err)
				return
			}
			if !c.admits(principal, visible, *event, c.now()) {
				continue
			}
			if !s.emit(Event{SosEvent: *event}) {
				s.fail(store.ErrSubscriptionLost)
				return
			}
		}
	}
}
