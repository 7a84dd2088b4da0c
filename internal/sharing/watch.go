package sharing

import (
	"sync"

	"github.com/waypost/waypost/internal/store"
)

// watchBuffer bounds the queued set emissions per watch. Consumers that fall
// behind only ever miss intermediate sets; the latest set is always queued.
const watchBuffer = 16

// Watch is a live, restartable view of the inbound grant set for one team.
// Owned by the caller; Close is idempotent.
type Watch struct {
	sub  *store.Subscription
	sets chan []string
	errs chan error

	closeOnce sync.Once
	done      chan struct{}
}

func newWatch(sub *store.Subscription) *Watch {
	return &Watch{
		sub:  sub,
		sets: make(chan []string, watchBuffer),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// Sets returns the channel of full inbound team sets. The first value is the
// set at subscription time; a new full set follows every affecting change.
func (w *Watch) Sets() <-chan []string {
	return w.sets
}

// Err delivers at most one terminal error (store.ErrSubscriptionLost). The
// caller is expected to open a new watch.
func (w *Watch) Err() <-chan error {
	return w.errs
}

// Close releases the watch and its underlying subscription. Idempotent.
func (w *Watch) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.sub.Close()
	})
}

// emit queues a set, dropping the oldest queued set when full so the latest
// state always gets through.
func (w *Watch) emit(teams []string) {
	select {
	case <-w.done:
		return
	default:
	}
	for {
		select {
		case w.sets <- teams:
			return
		default:
			select {
			case <-w.sets:
			default:
			}
		}
	}
}

// run pumps underlying changes into full-set emissions until the watch or the
// subscription ends. run is the only sender on the sets channel and closes it
// on exit.
func (w *Watch) run(snapshot func() ([]string, error)) {
	defer close(w.sets)
	for {
		select {
		case <-w.done:
			return
		case err := <-w.sub.Err():
			select {
			case w.errs <- err:
			default:
			}
			w.Close()
			return
		case _, ok := <-w.sub.Changes():
			if !ok {
				select {
				case <-w.done:
				default:
					select {
					case w.errs <- store.ErrSubscriptionLost:
					default:
					}
					w.Close()
				}
				return
			}
			teams, err := snapshot()
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				w.Close()
				return
			}
			w.emit(teams)
		}
	}
}
