// Package bridge accepts step completion messages posted by content pages
// embedded in the player, over HTTP or a WebSocket.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// TypeStepComplete is the only message type accepted.
const TypeStepComplete = "STEP_COMPLETE"

// Ack reasons produced by the bridge itself.
const (
	ReasonUnsupportedType = "unsupported_type"
	ReasonInvalidMessage  = "invalid_message"
	ReasonInternal        = "internal_error"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMissingIDs      = errors.New("moduleId and stepId are required")
)

// Message is posted by an embedded page when the learner finishes its step.
type Message struct {
	Type     string `json:"type"`
	ModuleID string `json:"moduleId"`
	StepID   string `json:"stepId"`
}

// Validate checks the message shape.
func (m Message) Validate() error {
	if m.Type != TypeStepComplete {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, m.Type)
	}
	if strings.TrimSpace(m.ModuleID) == "" || strings.TrimSpace(m.StepID) == "" {
		return ErrMissingIDs
	}
	return nil
}

// Ack answers one inbound message.
type Ack struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	StepID   string `json:"stepId,omitempty"`
}

// Handler applies a validated step completion.
type Handler interface {
	HandleStepComplete(ctx context.Context, moduleID, stepID string) (Ack, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, moduleID, stepID string) (Ack, error)

func (f HandlerFunc) HandleStepComplete(ctx context.Context, moduleID, stepID string) (Ack, error) {
	return f(ctx, moduleID, stepID)
}

// Dispatch validates msg and hands it to h. Errors become acknowledgements;
// Dispatch never fails.
func Dispatch(ctx context.Context, h Handler, msg Message) Ack {
	ack := Ack{ModuleID: msg.ModuleID, StepID: msg.StepID}
	if err := msg.Validate(); err != nil {
		ack.Reason = ReasonInvalidMessage
		if errors.Is(err, ErrUnsupportedType) {
			ack.Reason = ReasonUnsupportedType
		}
		return ack
	}

	res, err := h.HandleStepComplete(ctx, msg.ModuleID, msg.StepID)
	if err != nil {
		slog.Error("step completion message failed",
			"module_id", msg.ModuleID,
			"step_id", msg.StepID,
			"error", err,
		)
		ack.Reason = ReasonInternal
		return ack
	}
	if res.ModuleID == "" {
		res.ModuleID = msg.ModuleID
	}
	if res.StepID == "" {
		res.StepID = msg.StepID
	}
	return res
}

// OriginAllowed reports whether origin exactly matches one of the allowed
// origins by scheme, host and port. An empty origin is rejected.
func OriginAllowed(origin string, allowed []string) bool {
	o, ok := parseOrigin(origin)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if want, ok := parseOrigin(a); ok && want == o {
			return true
		}
	}
	return false
}

func parseOrigin(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "" && scheme == "http":
		port = "80"
	case port == "" && scheme == "https":
		port = "443"
	}
	return scheme + "://" + host + ":" + port, true
}

// MockHandler is a test double recording every completion it receives.
type MockHandler struct {
	Ack Ack
	Err error

	mu    sync.Mutex
	calls []Message
}

func (m *MockHandler) HandleStepComplete(_ context.Context, moduleID, stepID string) (Ack, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Message{Type: TypeStepComplete, ModuleID: moduleID, StepID: stepID})
	m.mu.Unlock()
	if m.Err != nil {
		return Ack{}, m.Err
	}
	return m.Ack, nil
}

// Calls returns the messages received so far.
func (m *MockHandler) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.calls...)
}
