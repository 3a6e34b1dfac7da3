// Package kit holds the transport-neutral endpoint plumbing: a service
// operation is an Endpoint, middlewares wrap it, and transport adapters
// (HTTP, MCP) expose it.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one service operation: typed request in, typed response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging records each call with the transport and request id carried in
// the context: debug on success, warn on failure.
func Logging(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"transport", GetTransport(ctx),
				"requestId", GetRequestID(ctx),
				"elapsed", time.Since(start),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.Debug("kit: endpoint ok", attrs...)
			return resp, nil
		}
	}
}
