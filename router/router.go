// CLAUDE:SUMMARY Action router — dispatch table for UI and audio-document messages with an exactly-once reply guarantee.
// Package router dispatches action messages from the UI surfaces and the
// auxiliary audio document to registered handlers.
//
//	r := router.New()
//	r.Register("get_settings", settingsHandler)
//	r.Dispatch(ctx, msg, replyFn)
//
// A handler may return synchronously or resolve later through the Reply it
// was given; either way the caller's reply function fires exactly once.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Message is one request from a surface.
type Message struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	// TabID identifies the sending tab, 0 when the sender is not a tab
	// (sidebar, audio document).
	TabID int `json:"tabId,omitempty"`
}

// Response is the uniform reply envelope.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Reply delivers a handler's result. Implementations fire at most once; the
// router suppresses duplicates.
type Reply func(Response)

// Handler processes one action. Synchronous handlers return (result, nil)
// or (nil, err) and ignore reply. Asynchronous handlers return
// (nil, ErrAsync) and call reply themselves when done.
type Handler func(ctx context.Context, msg Message, reply Reply) (any, error)

// ErrAsync signals that the handler took ownership of the reply.
var ErrAsync = fmt.Errorf("router: reply deferred")

// Router is a thread-safe action dispatch table.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs the handler for an action, replacing any previous one.
func (r *Router) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions returns the registered action names.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	return out
}

// Dispatch routes the message to its handler and guarantees reply fires
// exactly once: on the handler's return value, on its error, on a panic, or
// on an unknown action. Handlers that deferred the reply get a guarded
// Reply that suppresses any duplicate.
func (r *Router) Dispatch(ctx context.Context, msg Message, reply Reply) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Action]
	r.mu.RUnlock()

	guarded := guardReply(reply)

	if !ok {
		r.logger.Warn("router: unknown action", "action", msg.Action)
		guarded(Response{Success: false, Error: "unknown action: " + msg.Action})
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router: handler panicked", "action", msg.Action, "panic", rec)
			guarded(Response{Success: false, Error: fmt.Sprintf("internal error: %v", rec)})
		}
	}()

	result, err := h(ctx, msg, guarded)
	switch {
	case err == ErrAsync:
		// Handler owns the guarded reply now.
	case err != nil:
		r.logger.Warn("router: handler failed", "action", msg.Action, "error", err)
		guarded(Response{Success: false, Error: err.Error()})
	default:
		guarded(okResponse(result))
	}
}

func okResponse(result any) Response {
	if result == nil {
		return Response{Success: true}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{Success: false, Error: "encode result: " + err.Error()}
	}
	return Response{Success: true, Data: data}
}

// guardReply wraps reply so only the first invocation is delivered.
func guardReply(reply Reply) Reply {
	var done atomic.Bool
	return func(resp Response) {
		if reply == nil {
			return
		}
		if done.CompareAndSwap(false, true) {
			reply(resp)
		}
	}
}
