package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/waypost/waypost/internal/alert"
	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/feed"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/sharing"
	"github.com/waypost/waypost/internal/store"
	"github.com/waypost/waypost/internal/visibility"
)

// testEnv wires the full handler stack over an in-memory document store.
type testEnv struct {
	directory *auth.Directory
	registry  *sharing.Registry
	locations *location.Store
	feed      *feed.Feed
	channel   *alert.Channel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	docs := store.NewMemoryStore()
	t.Cleanup(func() { docs.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := auth.NewDirectory(docs)
	registry := sharing.NewRegistry(docs)
	graph := visibility.NewGraph(registry)
	locations := location.NewStore(docs, location.NewMetrics(), logger)
	positionFeed := feed.New(locations, graph, feed.NewMetrics(), logger)
	channel := alert.NewChannel(docs, graph, alert.NewMetrics(), logger)

	return &testEnv{
		directory: directory,
		registry:  registry,
		locations: locations,
		feed:      positionFeed,
		channel:   channel,
	}
}

// register puts a user in the directory.
func (e *testEnv) register(t *testing.T, userID, teamID string, canViewOthers bool) {
	t.Helper()
	err := e.directory.Register(context.Background(), auth.Principal{
		UserID:        userID,
		TeamID:        teamID,
		CanViewOthers: canViewOthers,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", userID, err)
	}
}

// authedRequest builds a request carrying userID the way the auth middleware
// would after validating a token.
func authedRequest(method, target, userID string, body any) *http.Request {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req = req.WithContext(middleware.SetUserID(req.Context(), userID))
	}
	return req
}

func TestReportPosition(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	req := authedRequest(http.MethodPost, "/locations", "alice", ReportPositionRequest{
		Latitude:  41.5,
		Longitude: -71.2,
		Seq:       1,
	})
	w := httptest.NewRecorder()

	handlers.ReportPosition(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var resp ReportPositionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Applied || !resp.Inserted {
		t.Errorf("response = %+v, want applied and inserted", resp)
	}

	rec, err := env.locations.GetLastKnown(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetLastKnown() error = %v", err)
	}
	if rec.Latitude != 41.5 || rec.TeamID != "team-red" {
		t.Errorf("stored record = %+v, want lat 41.5 team team-red", rec)
	}
}

func TestReportPosition_StaleSeqNotApplied(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	first := authedRequest(http.MethodPost, "/locations", "alice", ReportPositionRequest{
		Latitude: 41.0, Longitude: -71.0, Seq: 10,
	})
	w := httptest.NewRecorder()
	handlers.ReportPosition(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("first report status = %d, want 200", w.Code)
	}

	stale := authedRequest(http.MethodPost, "/locations", "alice", ReportPositionRequest{
		Latitude: 0.0, Longitude: 0.0, Seq: 4,
	})
	w = httptest.NewRecorder()
	handlers.ReportPosition(w, stale)

	if w.Code != http.StatusOK {
		t.Fatalf("stale report status = %d, want 200", w.Code)
	}
	var resp ReportPositionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Applied {
		t.Error("stale write reported as applied")
	}

	rec, err := env.locations.GetLastKnown(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetLastKnown() error = %v", err)
	}
	if rec.Latitude != 41.0 {
		t.Errorf("latitude = %v, want 41.0 (stale write must not clobber)", rec.Latitude)
	}
}

func TestReportPosition_InvalidCoordinate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	req := authedRequest(http.MethodPost, "/locations", "alice", ReportPositionRequest{
		Latitude: 95.0, Longitude: 0.0, Seq: 1,
	})
	w := httptest.NewRecorder()

	handlers.ReportPosition(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != ErrCodeInvalidCoordinate {
		t.Errorf("error code = %s, want %s", resp.Error.Code, ErrCodeInvalidCoordinate)
	}
}

func TestReportPosition_UnregisteredUser(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	req := authedRequest(http.MethodPost, "/locations", "ghost", ReportPositionRequest{
		Latitude: 1.0, Longitude: 2.0, Seq: 1,
	})
	w := httptest.NewRecorder()

	handlers.ReportPosition(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReportPosition_NoUserInContext(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	req := authedRequest(http.MethodPost, "/locations", "", ReportPositionRequest{
		Latitude: 1.0, Longitude: 2.0, Seq: 1,
	})
	w := httptest.NewRecorder()

	handlers.ReportPosition(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListPositions_VisibilityScoped(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	env.register(t, "bob", "team-blue", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	// Both users report; no sharing edge exists yet.
	for _, report := range []struct {
		userID   string
		lat, lon float64
	}{
		{"alice", 41.0, -71.0},
		{"bob", 42.0, -72.0},
	} {
		req := authedRequest(http.MethodPost, "/locations", report.userID, ReportPositionRequest{
			Latitude: report.lat, Longitude: report.lon, Seq: 1,
		})
		w := httptest.NewRecorder()
		handlers.ReportPosition(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("report for %s: status = %d", report.userID, w.Code)
		}
	}

	// Alice sees only her own team.
	w := httptest.NewRecorder()
	handlers.ListPositions(w, authedRequest(http.MethodGet, "/locations", "alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var records []location.PositionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "alice" {
		t.Fatalf("records = %v, want only alice", records)
	}

	// Blue shares with red; alice now sees bob too.
	if _, err := env.registry.Share(context.Background(), "team-blue", "team-red"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}

	w = httptest.NewRecorder()
	handlers.ListPositions(w, authedRequest(http.MethodGet, "/locations", "alice", nil))
	records = nil
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %v, want alice and bob after share", records)
	}
}

func TestListPositions_WithFilter(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	env.register(t, "bob", "team-red", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	for _, userID := range []string{"alice", "bob"} {
		req := authedRequest(http.MethodPost, "/locations", userID, ReportPositionRequest{
			Latitude: 41.0, Longitude: -71.0, Seq: 1,
		})
		w := httptest.NewRecorder()
		handlers.ReportPosition(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("report for %s: status = %d", userID, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handlers.ListPositions(w, authedRequest(http.MethodGet, "/locations?user_id=bob", "alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var records []location.PositionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "bob" {
		t.Errorf("records = %v, want only bob", records)
	}
}

func TestListPositions_ConflictingFilters(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	handlers := NewLocationHandlers(env.locations, env.feed, env.directory)

	w := httptest.NewRecorder()
	handlers.ListPositions(w, authedRequest(http.MethodGet, "/locations?user_id=bob&team_id=team-red", "alice", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
