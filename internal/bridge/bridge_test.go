package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-player/internal/bridge"
)

const playerOrigin = "http://localhost:8080"

func TestOriginAllowed(t *testing.T) {
	allowed := []string{playerOrigin, "https://learn.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"HTTP://LOCALHOST:8080", true},
		{"https://learn.example.com", true},
		{"https://learn.example.com:443", true},
		{"http://learn.example.com", false},
		{"http://localhost:9090", false},
		{"http://evil.example.com", false},
		{"", false},
		{"null", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		if got := bridge.OriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		msg        bridge.Message
		wantReason string
		wantCalls  int
	}{
		{"accepted", bridge.Message{Type: "STEP_COMPLETE", ModuleID: "m1", StepID: "m1s1"}, "", 1},
		{"wrong type", bridge.Message{Type: "STEP_VIEWED", ModuleID: "m1", StepID: "m1s1"}, bridge.ReasonUnsupportedType, 0},
		{"missing step", bridge.Message{Type: "STEP_COMPLETE", ModuleID: "m1"}, bridge.ReasonInvalidMessage, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &bridge.MockHandler{Ack: bridge.Ack{OK: true}}
			ack := bridge.Dispatch(context.Background(), h, tt.msg)
			if ack.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", ack.Reason, tt.wantReason)
			}
			if len(h.Calls()) != tt.wantCalls {
				t.Errorf("handler calls = %d, want %d", len(h.Calls()), tt.wantCalls)
			}
		})
	}
}

func TestDispatch_HandlerError(t *testing.T) {
	h := &bridge.MockHandler{Err: errors.New("storage down")}
	ack := bridge.Dispatch(context.Background(), h, bridge.Message{Type: "STEP_COMPLETE", ModuleID: "m1", StepID: "m1s1"})
	if ack.OK || ack.Reason != bridge.ReasonInternal {
		t.Errorf("Dispatch() = %+v, want internal_error", ack)
	}
}

func TestServeHTTP(t *testing.T) {
	h := &bridge.MockHandler{Ack: bridge.Ack{OK: true}}
	cfg := bridge.Config{AllowedOrigins: []string{playerOrigin}}

	post := func(origin, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		bridge.ServeHTTP(w, req, h, cfg)
		return w
	}

	if w := post("http://evil.example.com", `{"type":"STEP_COMPLETE","moduleId":"m1","stepId":"m1s1"}`); w.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", w.Code)
	}
	if w := post("", `{"type":"STEP_COMPLETE","moduleId":"m1","stepId":"m1s1"}`); w.Code != http.StatusForbidden {
		t.Errorf("missing origin status = %d, want 403", w.Code)
	}
	if len(h.Calls()) != 0 {
		t.Fatalf("rejected origins reached the handler: %v", h.Calls())
	}

	w := post(playerOrigin, `{"type":"STEP_COMPLETE","moduleId":"m1","stepId":"m1s1"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("accepted message = %d %s", w.Code, w.Body.String())
	}
	w = post(playerOrigin, `{garbage`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), bridge.ReasonInvalidMessage) {
		t.Errorf("garbage message = %d %s", w.Code, w.Body.String())
	}
}

func TestServeWebSocket(t *testing.T) {
	h := &bridge.MockHandler{Ack: bridge.Ack{OK: true}}
	cfg := bridge.Config{AllowedOrigins: []string{playerOrigin}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bridge.ServeWebSocket(w, r, h, cfg)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{playerOrigin}},
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	// A malformed frame is acknowledged and the connection stays usable.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var ack bridge.Ack
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ack.Reason != bridge.ReasonInvalidMessage {
		t.Errorf("ack for malformed frame = %+v", ack)
	}

	if err := wsjson.Write(ctx, conn, bridge.Message{Type: "STEP_COMPLETE", ModuleID: "m1", StepID: "m1s1"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !ack.OK || ack.StepID != "m1s1" {
		t.Errorf("ack = %+v, want ok for m1s1", ack)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	if len(h.Calls()) != 1 {
		t.Errorf("handler calls = %d, want 1", len(h.Calls()))
	}
}

func TestServeWebSocket_RejectsOrigin(t *testing.T) {
	h := &bridge.MockHandler{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bridge.ServeWebSocket(w, r, h, bridge.Config{AllowedOrigins: []string{playerOrigin}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, srv.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example.com"}},
	})
	if err == nil {
		t.Fatal("Dial() should fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want 403", resp)
	}
}
