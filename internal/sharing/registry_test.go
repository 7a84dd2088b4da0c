package sharing

import (
	"context"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(mem.Close)
	return NewRegistry(mem)
}

func receiveSet(t *testing.T, w *Watch) []string {
	t.Helper()
	select {
	case set := <-w.Sets():
		return set
	case err := <-w.Err():
		t.Fatalf("watch failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for set")
	}
	return nil
}

func TestRegistry_Share_CreatesEdge(t *testing.T) {
	r := newTestRegistry(t)

	edge, err := r.Share(context.Background(), "team-a", "team-b")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if edge.ID == "" {
		t.Error("Expected non-empty edge ID")
	}
	if edge.FromTeam != "team-a" || edge.ToTeam != "team-b" {
		t.Errorf("Unexpected edge %+v", edge)
	}
}

func TestRegistry_Share_Idempotent(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Share(context.Background(), "team-a", "team-b")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	second, err := r.Share(context.Background(), "team-a", "team-b")
	if err != nil {
		t.Fatalf("Repeated Share failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected the same edge, got %s and %s", first.ID, second.ID)
	}

	edges, err := r.Edges(context.Background(), "team-a")
	if err != nil {
		t.Fatalf("Edges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("Expected 1 edge, got %d", len(edges))
	}
}

func TestRegistry_Share_RejectsSelfEdge(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Share(context.Background(), "team-a", "team-a"); err != ErrSelfEdge {
		t.Errorf("Expected ErrSelfEdge, got %v", err)
	}
}

func TestRegistry_Share_Directed(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Share(context.Background(), "team-a", "team-b"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	// The reverse direction is a distinct edge.
	inbound, err := r.InboundTeams(context.Background(), "team-a")
	if err != nil {
		t.Fatalf("InboundTeams failed: %v", err)
	}
	if len(inbound) != 0 {
		t.Errorf("Expected no inbound teams for team-a, got %v", inbound)
	}

	inbound, err = r.InboundTeams(context.Background(), "team-b")
	if err != nil {
		t.Fatalf("InboundTeams failed: %v", err)
	}
	if len(inbound) != 1 || inbound[0] != "team-a" {
		t.Errorf("Expected [team-a], got %v", inbound)
	}
}

func TestRegistry_Unshare_RemovesEdge(t *testing.T) {
	r := newTestRegistry(t)

	edge, err := r.Share(context.Background(), "team-a", "team-b")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if err := r.Unshare(context.Background(), edge.ID); err != nil {
		t.Fatalf("Unshare failed: %v", err)
	}

	edges, err := r.Edges(context.Background(), "team-a")
	if err != nil {
		t.Fatalf("Edges failed: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("Expected no edges, got %d", len(edges))
	}
}

func TestRegistry_Unshare_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Unshare(context.Background(), "missing"); err != ErrEdgeNotFound {
		t.Errorf("Expected ErrEdgeNotFound, got %v", err)
	}
}

func TestRegistry_SharedToMe_EmitsInitialSet(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Share(context.Background(), "team-a", "team-c"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	watch, err := r.SharedToMe(context.Background(), "team-c")
	if err != nil {
		t.Fatalf("SharedToMe failed: %v", err)
	}
	defer watch.Close()

	set := receiveSet(t, watch)
	if len(set) != 1 || set[0] != "team-a" {
		t.Errorf("Expected initial set [team-a], got %v", set)
	}
}

func TestRegistry_SharedToMe_EmitsOnChange(t *testing.T) {
	r := newTestRegistry(t)

	watch, err := r.SharedToMe(context.Background(), "team-c")
	if err != nil {
		t.Fatalf("SharedToMe failed: %v", err)
	}
	defer watch.Close()

	set := receiveSet(t, watch)
	if len(set) != 0 {
		t.Errorf("Expected empty initial set, got %v", set)
	}

	if _, err := r.Share(context.Background(), "team-b", "team-c"); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	set = receiveSet(t, watch)
	if len(set) != 1 || set[0] != "team-b" {
		t.Errorf("Expected [team-b] after grant, got %v", set)
	}
}

func TestRegistry_SharedToMe_EmitsOnRevoke(t *testing.T) {
	r := newTestRegistry(t)

	edge, err := r.Share(context.Background(), "team-a", "team-c")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	watch, err := r.SharedToMe(context.Background(), "team-c")
	if err != nil {
		t.Fatalf("SharedToMe failed: %v", err)
	}
	defer watch.Close()

	if set := receiveSet(t, watch); len(set) != 1 {
		t.Fatalf("Expected 1 inbound team initially, got %v", set)
	}

	if err := r.Unshare(context.Background(), edge.ID); err != nil {
		t.Fatalf("Unshare failed: %v", err)
	}

	if set := receiveSet(t, watch); len(set) != 0 {
		t.Errorf("Expected empty set after revoke, got %v", set)
	}
}
