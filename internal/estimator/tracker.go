package estimator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waypost/waypost/internal/location"
)

// DefaultInterval is the tick period for the background tracking loop,
// matching the device-side reporting cadence.
const DefaultInterval = 5 * time.Second

// Tracker is the background loop that turns estimator ticks into position
// upserts. Writes are issued from a single goroutine in tick order, each
// tagged with a monotonically increasing sequence so the store can discard a
// delayed earlier fix that lands after a later one.
type Tracker struct {
	est       *Estimator
	positions location.Writer
	userID    string
	teamID    string
	interval  time.Duration
	logger    *slog.Logger

	seq int64

	mu     sync.Mutex
	cancel context.CancelFunc
	donewg sync.WaitGroup
}

// NewTracker creates a tracker for one user's device.
func NewTracker(est *Estimator, positions location.Writer, userID, teamID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		est:       est,
		positions: positions,
		userID:    userID,
		teamID:    teamID,
		interval:  DefaultInterval,
		logger:    logger,
	}
}

// SetInterval overrides the tick period.
func (t *Tracker) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// Start launches the tracking loop. Starting an already running tracker is a
// no-op. The loop also pumps the pedometer into the estimator so inertial
// ticks have steps to integrate.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	steps, err := t.est.sensors.StepCounts(runCtx)
	if err != nil {
		// Tracking still works on satellite alone; inertial fallback will
		// just project zero travel.
		t.logger.Warn("step counter unavailable", slog.String("error", err.Error()))
		steps = nil
	}

	t.donewg.Add(1)
	go t.run(runCtx, steps)
	return nil
}

// Stop halts the loop and waits for the in-flight tick to finish. Safe to
// call multiple times.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.donewg.Wait()
	}
}

// NextSeq returns the sequence the next write will carry. Exposed for tests.
func (t *Tracker) NextSeq() int64 {
	return atomic.LoadInt64(&t.seq) + 1
}

func (t *Tracker) run(ctx context.Context, steps <-chan int) {
	defer t.donewg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-steps:
			if !ok {
				steps = nil
				continue
			}
			t.est.AddSteps(n)
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick estimates once and upserts the result. An unavailable fix skips the
// tick without surfacing an error; a later tick will likely succeed.
func (t *Tracker) tick(ctx context.Context) {
	fix, err := t.est.Estimate(ctx)
	if err != nil {
		t.logger.Debug("skipping tick, no fix available",
			slog.String("user_id", t.userID),
			slog.String("error", err.Error()))
		return
	}

	seq := atomic.AddInt64(&t.seq, 1)
	_, err = t.positions.Upsert(ctx, location.PositionRecord{
		UserID:    t.userID,
		TeamID:    t.teamID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Seq:       seq,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.logger.Warn("position upsert failed",
			slog.String("user_id", t.userID),
			slog.String("error", err.Error()))
	}
}
