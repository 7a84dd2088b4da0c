package feed

import (
	"context"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/sharing"
	"github.com/waypost/waypost/internal/store"
	"github.com/waypost/waypost/internal/visibility"
)

type fixture struct {
	feed      *Feed
	locations *location.Store
	registry  *sharing.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(mem.Close)
	locations := location.NewStore(mem, nil, nil)
	registry := sharing.NewRegistry(mem)
	graph := visibility.NewGraph(registry)
	return &fixture{
		feed:      New(locations, graph, nil, nil),
		locations: locations,
		registry:  registry,
	}
}

func (f *fixture) upsert(t *testing.T, userID, teamID string, seq int64) {
	t.Helper()
	if _, err := f.locations.Upsert(context.Background(), location.PositionRecord{
		UserID: userID, TeamID: teamID, Latitude: 1, Longitude: 2, Seq: seq,
	}); err != nil {
		t.Fatalf("Upsert %s failed: %v", userID, err)
	}
}

func receiveUpdate(t *testing.T, sub *Subscription) []location.PositionRecord {
	t.Helper()
	select {
	case records := <-sub.Updates():
		return records
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return nil
}

// waitFor drains updates until the condition holds or the deadline passes.
func waitFor(t *testing.T, sub *Subscription, cond func([]location.PositionRecord) bool) []location.PositionRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case records := <-sub.Updates():
			if cond(records) {
				return records
			}
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-deadline:
			t.Fatal("condition not reached before deadline")
		}
	}
}

func users(records []location.PositionRecord) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, rec := range records {
		out[rec.UserID] = true
	}
	return out
}

func TestFeed_Subscribe_InitialSnapshot(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "bob", "team-a", 1)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	records := receiveUpdate(t, sub)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records in initial snapshot, got %d", len(records))
	}
	// Snapshot is ordered by user ID.
	if records[0].UserID != "alice" || records[1].UserID != "bob" {
		t.Errorf("Unexpected order: %s, %s", records[0].UserID, records[1].UserID)
	}
}

func TestFeed_Subscribe_ExcludesInvisibleTeams(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "carol", "team-b", 1)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	records := receiveUpdate(t, sub)
	seen := users(records)
	if seen["carol"] {
		t.Error("team-b must not be visible without a grant")
	}
	if !seen["alice"] {
		t.Error("Expected own team's record")
	}
}

func TestFeed_Subscribe_NewGrantRevealsExistingPositions(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "carol", "team-b", 1)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if seen := users(receiveUpdate(t, sub)); seen["carol"] {
		t.Fatal("carol visible before grant")
	}

	// team-b shares into team-a; carol's existing position must appear
	// without carol reporting again.
	if _, err := f.registry.Share(context.Background(), "team-b", "team-a"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	records := waitFor(t, sub, func(records []location.PositionRecord) bool {
		return users(records)["carol"]
	})
	if !users(records)["alice"] {
		t.Error("Own record missing after grant")
	}
}

func TestFeed_Subscribe_RevokeHidesPositions(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "carol", "team-b", 1)

	edge, err := f.registry.Share(context.Background(), "team-b", "team-a")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	waitFor(t, sub, func(records []location.PositionRecord) bool {
		return users(records)["carol"]
	})

	if err := f.registry.Unshare(context.Background(), edge.ID); err != nil {
		t.Fatalf("Unshare failed: %v", err)
	}

	waitFor(t, sub, func(records []location.PositionRecord) bool {
		return !users(records)["carol"]
	})
}

func TestFeed_Subscribe_OptedOutSeesOnlySelf(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "bob", "team-a", 1)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: false,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	records := receiveUpdate(t, sub)
	if len(records) != 1 || records[0].UserID != "alice" {
		t.Errorf("Opted-out principal must see only their own record, got %v", users(records))
	}
}

func TestFeed_Subscribe_OptedOutStillVisibleToOthers(t *testing.T) {
	f := newFixture(t)
	// bob opted out; his record still flows to teammates.
	f.upsert(t, "bob", "team-a", 1)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	records := receiveUpdate(t, sub)
	if !users(records)["bob"] {
		t.Error("Opt-out gates consumption, not production")
	}
}

func TestFeed_Subscribe_UpdatesOnNewPosition(t *testing.T) {
	f := newFixture(t)

	sub, err := f.feed.Subscribe(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if records := receiveUpdate(t, sub); len(records) != 0 {
		t.Fatalf("Expected empty initial snapshot, got %d records", len(records))
	}

	f.upsert(t, "bob", "team-a", 1)

	waitFor(t, sub, func(records []location.PositionRecord) bool {
		return users(records)["bob"]
	})
}

func TestFeed_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, "alice", "team-a", 1)
	f.upsert(t, "carol", "team-b", 1)

	records, err := f.feed.Snapshot(context.Background(), auth.Principal{
		UserID: "alice", TeamID: "team-a", CanViewOthers: true,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "alice" {
		t.Errorf("Expected only alice, got %v", users(records))
	}
}
