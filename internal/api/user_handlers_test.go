package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/waypost/waypost/internal/auth"
)

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewUserHandlers(env.directory)

	req := authedRequest(http.MethodPost, "/users", "alice", RegisterUserRequest{
		TeamID:        "team-red",
		CanViewOthers: true,
	})
	w := httptest.NewRecorder()

	handlers.RegisterUser(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", w.Code, w.Body.String())
	}

	var p auth.Principal
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.UserID != "alice" || p.TeamID != "team-red" || !p.CanViewOthers {
		t.Errorf("principal = %+v, want alice on team-red with consent", p)
	}

	stored, err := env.directory.Principal(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if stored.TeamID != "team-red" {
		t.Errorf("stored team = %s, want team-red", stored.TeamID)
	}
}

func TestRegisterUser_MissingTeam(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewUserHandlers(env.directory)

	req := authedRequest(http.MethodPost, "/users", "alice", RegisterUserRequest{})
	w := httptest.NewRecorder()

	handlers.RegisterUser(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRegisterUser_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewUserHandlers(env.directory)

	req := authedRequest(http.MethodPost, "/users", "", RegisterUserRequest{TeamID: "team-red"})
	w := httptest.NewRecorder()

	handlers.RegisterUser(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetMe(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", false)
	handlers := NewUserHandlers(env.directory)

	w := httptest.NewRecorder()
	handlers.GetMe(w, authedRequest(http.MethodGet, "/users/me", "alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var p auth.Principal
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.UserID != "alice" || p.TeamID != "team-red" || p.CanViewOthers {
		t.Errorf("principal = %+v, want alice on team-red without consent", p)
	}
}

func TestGetMe_NotRegistered(t *testing.T) {
	env := newTestEnv(t)
	handlers := NewUserHandlers(env.directory)

	w := httptest.NewRecorder()
	handlers.GetMe(w, authedRequest(http.MethodGet, "/users/me", "ghost", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != ErrCodeUserNotFound {
		t.Errorf("error code = %s, want %s", resp.Error.Code, ErrCodeUserNotFound)
	}
}

func TestSetVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "team-red", true)
	handlers := NewUserHandlers(env.directory)

	req := authedRequest(http.MethodPatch, "/users/me/visibility", "alice", SetVisibilityRequest{
		CanViewOthers: false,
	})
	w := httptest.NewRecorder()

	handlers.SetVisibility(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var p auth.Principal
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.CanViewOthers {
		t.Error("response still reports consent on")
	}

	stored, err := env.directory.Principal(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if stored.CanViewOthers {
		t.Error("stored consent flag still on")
	}
	if stored.TeamID != "team-red" {
		t.Errorf("team changed to %s, want team-red preserved", stored.TeamID)
	}
}
