package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Config holds the origins allowed to post completion messages.
type Config struct {
	AllowedOrigins []string
}

// ServeWebSocket upgrades the request and acknowledges every inbound message
// until the peer disconnects. The origin is checked before the handshake.
// Malformed messages are acknowledged with a reason; the connection stays
// open.
func ServeWebSocket(w http.ResponseWriter, r *http.Request, h Handler, cfg Config) {
	origin := r.Header.Get("Origin")
	if !OriginAllowed(origin, cfg.AllowedOrigins) {
		slog.Warn("bridge origin rejected", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is verified above against the configured player origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("bridge handshake failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		// Read frames directly: wsjson.Read closes the connection on a
		// payload that is not JSON.
		_, data, err := conn.Read(ctx)
		if err != nil {
			if isClosed(err) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			slog.Debug("bridge read ended", "error", err)
			return
		}

		ack := handleRaw(ctx, h, data)
		if err := wsjson.Write(ctx, conn, ack); err != nil {
			slog.Debug("bridge write failed", "error", err)
			return
		}
	}
}

func handleRaw(ctx context.Context, h Handler, raw []byte) Ack {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Ack{Reason: ReasonInvalidMessage}
	}
	return Dispatch(ctx, h, msg)
}

func isClosed(err error) bool {
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
