package location

import (
	"context"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(mem.Close)
	return NewStore(mem, nil, nil), mem
}

func TestStore_Upsert_Insert(t *testing.T) {
	s, _ := newTestStore(t)

	result, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Latitude: 40.7, Longitude: -74.0, Seq: 1,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected write to be applied")
	}
	if !result.Inserted {
		t.Error("Expected insert, got update")
	}
}

func TestStore_Upsert_OneRecordPerUser(t *testing.T) {
	s, _ := newTestStore(t)

	for seq := int64(1); seq <= 5; seq++ {
		if _, err := s.Upsert(context.Background(), PositionRecord{
			UserID: "alice", TeamID: "team-a", Latitude: 40.7 + float64(seq), Seq: seq,
		}); err != nil {
			t.Fatalf("Upsert seq %d failed: %v", seq, err)
		}
	}

	records, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Seq != 5 {
		t.Errorf("Expected seq 5, got %d", records[0].Seq)
	}
}

func TestStore_Upsert_DiscardsStaleSeq(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Latitude: 41.0, Seq: 10,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// A delayed earlier fix arrives after a newer one.
	result, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Latitude: 39.0, Seq: 4,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if result.Applied {
		t.Error("Expected stale upsert to be discarded")
	}

	fix := s.GetLastKnown(context.Background(), "alice")
	if fix.Latitude != 41.0 {
		t.Errorf("Stale write overwrote newer position: lat %f", fix.Latitude)
	}
}

func TestStore_Upsert_EmptyUserID(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Upsert(context.Background(), PositionRecord{TeamID: "team-a"}); err == nil {
		t.Error("Expected error for empty user ID")
	}
}

func TestStore_GetLastKnown_ZeroFixWhenMissing(t *testing.T) {
	s, _ := newTestStore(t)

	fix := s.GetLastKnown(context.Background(), "nobody")
	if fix.Latitude != 0 || fix.Longitude != 0 {
		t.Errorf("Expected zero fix, got %+v", fix)
	}
}

func TestStore_GetLastKnown_ReturnsStoredFix(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Latitude: 40.7, Longitude: -74.0, Seq: 1,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	fix := s.GetLastKnown(context.Background(), "alice")
	if fix.Latitude != 40.7 || fix.Longitude != -74.0 {
		t.Errorf("Expected stored coordinates, got %+v", fix)
	}
	if fix.Source != SourceStored {
		t.Errorf("Expected source %q, got %q", SourceStored, fix.Source)
	}
}

func TestStore_Watch_DeliversUpserts(t *testing.T) {
	s, _ := newTestStore(t)

	sub, err := s.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer sub.Close()

	if _, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Latitude: 40.7, Seq: 1,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	select {
	case change := <-sub.Changes():
		rec, err := DecodeRecord(change.Doc.Payload)
		if err != nil {
			t.Fatalf("DecodeRecord failed: %v", err)
		}
		if rec.UserID != "alice" {
			t.Errorf("Expected alice, got %s", rec.UserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestStore_WatchUser_FiltersOtherUsers(t *testing.T) {
	s, _ := newTestStore(t)

	sub, err := s.WatchUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("WatchUser failed: %v", err)
	}
	defer sub.Close()

	if _, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "alice", TeamID: "team-a", Seq: 1,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := s.Upsert(context.Background(), PositionRecord{
		UserID: "bob", TeamID: "team-a", Seq: 1,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	select {
	case change := <-sub.Changes():
		if change.Doc.Key != "bob" {
			t.Errorf("Expected only bob's changes, got %s", change.Doc.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestEncodeDecodeRecord_RoundTrip(t *testing.T) {
	rec := PositionRecord{
		UserID:    "alice",
		TeamID:    "team-a",
		Latitude:  40.7128,
		Longitude: -74.0060,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Seq:       7,
	}

	payload, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord failed: %v", err)
	}
	decoded, err := DecodeRecord(payload)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if decoded.UserID != rec.UserID || decoded.Seq != rec.Seq || decoded.Latitude != rec.Latitude {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
}

func TestDecodeRecord_Invalid(t *testing.T) {
	if _, err := DecodeRecord([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected error for invalid payload")
	}
}
