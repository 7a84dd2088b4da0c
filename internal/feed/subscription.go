package feed

import (
	"sync"

	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/store"
)

// snapshotBuffer bounds queued snapshot emissions. Older queued snapshots are
// dropped in favor of newer ones; only the latest state matters to a map.
const snapshotBuffer = 8

// visWatcher abstracts the visibility watch so opted-out subscriptions can
// run without one.
type visWatcher interface {
	Sets() <-chan []string
	Err() <-chan error
	Close()
}

// noVisWatch is a visWatcher that never emits. Used when the principal's
// consent flag is off and visibility changes cannot affect their view.
type noVisWatch struct{}

func (noVisWatch) Sets() <-chan []string { return nil }
func (noVisWatch) Err() <-chan error     { return nil }
func (noVisWatch) Close()                {}

// Subscription is a live position view handle. Owned by the caller; Close is
// idempotent and releases both underlying watches immediately.
type Subscription struct {
	locSub   *store.Subscription
	visWatch visWatcher
	updates  chan []location.PositionRecord
	errs     chan error
	metrics  *Metrics

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscription(locSub *store.Subscription, visWatch visWatcher, metrics *Metrics) *Subscription {
	return &Subscription{
		locSub:   locSub,
		visWatch: visWatch,
		updates:  make(chan []location.PositionRecord, snapshotBuffer),
		errs:     make(chan error, 1),
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

// Updates returns the channel of full filtered snapshots. The first value is
// the snapshot at subscription time.
func (s *Subscription) Updates() <-chan []location.PositionRecord {
	return s.updates
}

// Err delivers at most one terminal error; the caller resubscribes.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Close releases the subscription and its underlying watches. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.locSub.Close()
		s.visWatch.Close()
		if s.metrics != nil {
			s.metrics.DecSubscriptions()
		}
	})
}

// emit queues a snapshot, dropping the oldest queued one when full so the
// latest state always gets through.
func (s *Subscription) emit(records []location.PositionRecord) {
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.updates <- records:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

func (s *Subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
	s.Close()
}

// run recomputes and emits the snapshot on every position change and every
// visible-set change until the subscription ends. run is the only sender on
// the updates channel and closes it on exit.
func (s *Subscription) run(snapshot func() ([]location.PositionRecord, error)) {
	defer close(s.updates)
	recompute := func() bool {
		records, err := snapshot()
		if err != nil {
			s.fail(err)
			return false
		}
		s.emit(records)
		return true
	}

	for {
		select {
		case <-s.done:
			return
		case err := <-s.locSub.Err():
			s.fail(err)
			return
		case err := <-s.visWatch.Err():
			s.fail(err)
			return
		case _, ok := <-s.locSub.Changes():
			if !ok {
				select {
				case <-s.done:
				default:
					s.fail(store.ErrSubscriptionLost)
				}
				return
			}
			if !recompute() {
				return
			}
		case _, ok := <-s.visWatch.Sets():
			if !ok {
				select {
				case <-s.done:
				default:
					s.fail(store.ErrSubscriptionLost)
				}
				return
			}
			if !recompute() {
				return
			}
		}
	}
}
