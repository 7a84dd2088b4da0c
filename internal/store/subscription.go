package store

import "sync"

// subscriptionBuffer bounds the per-subscriber change queue. A subscriber that
// falls this far behind is terminated with ErrSubscriptionLost rather than
// blocking writers.
const subscriptionBuffer = 64

// Subscription is a handle to a live change stream. It is owned by the caller
// and released with Close, which is safe to call multiple times.
type Subscription struct {
	changes chan Change
	errs    chan error

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Subscription)
}

func newSubscription(onClose func(*Subscription)) *Subscription {
	return &Subscription{
		changes: make(chan Change, subscriptionBuffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Changes returns the channel of document changes. The channel is closed when
// the subscription ends.
func (s *Subscription) Changes() <-chan Change {
	return s.changes
}

// Err returns a channel that delivers at most one terminal error, such as
// ErrSubscriptionLost. Callers are expected to resubscribe.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

// Close releases the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
		// Deliveries may still be in flight from dispatcher goroutines that
		// grabbed a reference before unregistration; the mutex orders them
		// against the channel close.
		s.mu.Lock()
		s.closed = true
		close(s.changes)
		s.mu.Unlock()
	})
}

// deliver enqueues a change without blocking. Returns false when the
// subscriber's buffer is full, in which case the caller should fail the
// subscription.
func (s *Subscription) deliver(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.changes <- c:
		return true
	default:
		return false
	}
}

// fail delivers a terminal error. The subscription is unusable afterwards.
func (s *Subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
	s.Close()
}
