// Package api provides WebSocket handlers for realtime feed and alert delivery.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/waypost/waypost/internal/alert"
	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/feed"
	"github.com/waypost/waypost/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper CORS checking based on configuration
		// For now, allow all origins (should be restricted in production)
		return true
	},
}

// StreamHandlers holds dependencies for WebSocket handlers.
type StreamHandlers struct {
	feed      *feed.Feed
	channel   *alert.Channel
	directory *auth.Directory
}

// NewStreamHandlers creates a new StreamHandlers instance.
func NewStreamHandlers(positionFeed *feed.Feed, channel *alert.Channel, directory *auth.Directory) *StreamHandlers {
	return &StreamHandlers{
		feed:      positionFeed,
		channel:   channel,
		directory: directory,
	}
}

// FeedWS handles WebSocket connections for live position snapshots.
// GET /feed/ws
//
// Each message is the caller's full visible snapshot as a JSON array. A fresh
// snapshot is sent on connect, after every visible position write, and after
// every change to the caller's visible team set.
func (h *StreamHandlers) FeedWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	sub, err := h.feed.Subscribe(ctx, *principal)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to feed", "error", err, "user_id", principal.UserID)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to subscribe")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err, "user_id", principal.UserID)
		return
	}

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to feed",
		"user_id", principal.UserID,
		"request_id", requestID,
	)

	defer func() {
		sub.Close()
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed from feed",
			"user_id", principal.UserID,
			"request_id", requestID,
		)
	}()

	// Writer: pump snapshots to the client until the subscription ends.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case records, open := <-sub.Updates():
				if !open {
					return
				}
				if err := conn.WriteJSON(records); err != nil {
					return
				}
			case err := <-sub.Err():
				slog.WarnContext(ctx, "feed subscription lost", "error", err, "user_id", principal.UserID)
				return
			}
		}
	}()

	// Reader: clients do not send messages; read only to detect disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"user_id", principal.UserID,
				)
			}
			break
		}
	}
	sub.Close()
	<-done
}

// AlertsWS handles WebSocket connections for SOS event delivery.
// GET /alerts/ws
//
// On connect the client receives every currently active visible event marked
// baseline=true, then one message per newly visible event.
func (h *StreamHandlers) AlertsWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	sub, err := h.channel.Subscribe(ctx, *principal)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to alerts", "error", err, "user_id", principal.UserID)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to subscribe")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err, "user_id", principal.UserID)
		return
	}

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to alerts",
		"user_id", principal.UserID,
		"request_id", requestID,
	)

	defer func() {
		sub.Close()
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed from alerts",
			"user_id", principal.UserID,
			"request_id", requestID,
		)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, open := <-sub.Events():
				if !open {
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case err := <-sub.Err():
				slog.WarnContext(ctx, "alert subscription lost", "error", err, "user_id", principal.UserID)
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"user_id", principal.UserID,
				)
			}
			break
		}
	}
	sub.Close()
	<-done
}
