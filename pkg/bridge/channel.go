// Package bridge implements the request/reply channel between native code and
// a hosted web surface. Handlers are registered against a closed set of names
// and every inbound request receives exactly one reply.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/metrics"
	"github.com/openkcm/link-checkout/internal/serviceerr"
)

const DefaultTimeout = 10 * time.Second

// Handler serves one request. It must eventually call Resolve or Reject on
// the responder, either before returning or later from another goroutine.
// Handlers may be invoked concurrently and must synchronise any shared state.
type Handler func(ctx context.Context, body json.RawMessage, reply *Responder)

// HandlerFunc adapts a synchronous function to a Handler.
func HandlerFunc(fn func(ctx context.Context, body json.RawMessage) (any, error)) Handler {
	return func(ctx context.Context, body json.RawMessage, reply *Responder) {
		value, err := fn(ctx, body)
		if err != nil {
			reply.Reject(err)
			return
		}
		reply.Resolve(value)
	}
}

type Channel struct {
	handlers [handlerCount]Handler
	timeout  time.Duration
}

type Option func(*Channel)

// WithTimeout bounds every handler invocation.
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("bridge: timeout must be positive")
	}
	return func(c *Channel) {
		c.timeout = d
	}
}

func NewChannel(opts ...Option) *Channel {
	c := &Channel{timeout: DefaultTimeout}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// Register installs h for name. Registering a name twice or a name outside
// the closed set panics.
func (c *Channel) Register(name HandlerName, h Handler) {
	if !name.valid() {
		panic(fmt.Sprintf("bridge: unknown handler name %d", int(name)))
	}
	if h == nil {
		panic("bridge: nil handler for " + name.String())
	}
	if c.handlers[name] != nil {
		panic(serviceerr.ErrDuplicateHandler.WithDescription("handler already registered: " + name.String()))
	}
	c.handlers[name] = h
}

// Validate reports every handler of the closed set that is not registered.
func (c *Channel) Validate() error {
	var missing []string
	for name, h := range c.handlers {
		if h == nil {
			missing = append(missing, HandlerName(name).String())
		}
	}
	if len(missing) > 0 {
		return serviceerr.ErrIncompleteHandlers.WithDescription("missing handlers: " + strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch routes req to its handler and waits for the reply. It never
// returns without a reply: unknown names, handler failures, panics and
// timeouts all become error replies.
func (c *Channel) Dispatch(ctx context.Context, req Request) Reply {
	start := time.Now()
	ctx = slogctx.With(ctx, "bridge_handler", req.Handler, "bridge_request_id", req.ID)

	name, ok := ParseHandlerName(req.Handler)
	if !ok || c.handlers[name] == nil {
		slogctx.Warn(ctx, "Rejecting unexpected bridge message")
		reply := errorReply(req.ID, serviceerr.ErrUnexpectedMessage.Description)
		metrics.RecordBridgeReply(ctx, "unknown", "unexpected", time.Since(start))
		return reply
	}

	reply := c.invoke(ctx, name, req)

	outcome := "value"
	if reply.IsError() {
		outcome = "error"
	}
	metrics.RecordBridgeReply(ctx, name.String(), outcome, time.Since(start))

	return reply
}

func (c *Channel) invoke(ctx context.Context, name HandlerName, req Request) Reply {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	responder := newResponder(req.ID)
	h := c.handlers[name]

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slogctx.Error(ctx, "Bridge handler panicked", "panic", r)
				responder.Reject(fmt.Errorf("handler %s panicked: %v", name, r))
			}
		}()
		h(ctx, req.Body, responder)
	}()

	select {
	case reply := <-responder.ch:
		return reply
	case <-ctx.Done():
		if !responder.expire() {
			// the handler won the race against the deadline
			return <-responder.ch
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slogctx.Warn(ctx, "Bridge handler timed out", "timeout", c.timeout)
			return errorReply(req.ID, serviceerr.ErrHandlerTimeout.Description)
		}

		slogctx.Debug(ctx, "Bridge request canceled")
		return errorReply(req.ID, "Canceled")
	}
}
