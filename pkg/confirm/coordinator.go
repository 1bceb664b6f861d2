// Package confirm runs a single in-flight payment confirmation per flow
// instance and keeps the hosting surface from being dismissed meanwhile.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/metrics"
	"github.com/openkcm/link-checkout/internal/serviceerr"
)

const tracerName = "github.com/openkcm/link-checkout/pkg/confirm"

type Status int

const (
	StatusCompleted Status = iota
	StatusCanceled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome of one confirmation attempt. Err is set if and only if Status is
// StatusFailed.
type Outcome struct {
	Status Status
	Err    error
}

func Completed() Outcome         { return Outcome{Status: StatusCompleted} }
func Canceled() Outcome          { return Outcome{Status: StatusCanceled} }
func Failed(err error) Outcome   { return Outcome{Status: StatusFailed, Err: err} }
func (o Outcome) Terminal() bool { return o.Status == StatusCompleted }

func (o Outcome) normalized() Outcome {
	switch o.Status {
	case StatusCompleted:
		return Completed()
	case StatusCanceled:
		return Canceled()
	default:
		if o.Err == nil {
			return Failed(serviceerr.ErrUnknown)
		}
		if errors.Is(o.Err, serviceerr.ErrUserCanceled) {
			return Canceled()
		}
		return Failed(o.Err)
	}
}

// ConfirmFunc confirms the payment with the host application. It may block
// on network calls.
type ConfirmFunc func(ctx context.Context, details PaymentDetails) Outcome

// Surface is the presentation hosting the flow. It must be safe to call from
// any goroutine.
type Surface interface {
	SetDismissalEnabled(enabled bool)
}

type Coordinator struct {
	confirm ConfirmFunc
	surface Surface
	tracer  trace.Tracer

	mu       sync.Mutex
	inFlight bool
	terminal bool
	closed   bool
}

func NewCoordinator(confirm ConfirmFunc, surface Surface) *Coordinator {
	return &Coordinator{
		confirm: confirm,
		surface: surface,
		tracer:  otel.Tracer(tracerName),
	}
}

// Confirm starts a confirmation and returns the channel its outcome is
// delivered on. It fails with serviceerr.ErrConfirmInFlight while another
// confirmation is outstanding and with serviceerr.ErrTerminal once a
// confirmation completed. Dismissal of the surface is disabled before the
// host is called and enabled again before the outcome is delivered.
func (c *Coordinator) Confirm(ctx context.Context, details PaymentDetails) (<-chan Outcome, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, serviceerr.ErrFlowClosed
	case c.terminal:
		c.mu.Unlock()
		return nil, serviceerr.ErrTerminal
	case c.inFlight:
		c.mu.Unlock()
		return nil, serviceerr.ErrConfirmInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	ch := make(chan Outcome, 1)
	ctx = slogctx.With(ctx, "payment_details_id", details.ID)

	if err := details.Validate(); err != nil {
		slogctx.Warn(ctx, "Rejecting invalid payment details", "error", err)
		c.finish(ctx, Failed(err), ch, false)
		return ch, nil
	}

	c.surface.SetDismissalEnabled(false)

	ctx, span := c.tracer.Start(ctx, "confirm payment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.type", details.Type),
			attribute.String("payment.currency", details.Currency),
			attribute.Int64("payment.amount", details.Amount),
		),
	)

	go func() {
		outcome := Failed(serviceerr.ErrUnknown)
		defer func() {
			if r := recover(); r != nil {
				slogctx.Error(ctx, "Host confirmation panicked", "panic", r)
				outcome = Failed(fmt.Errorf("confirmation panicked: %v", r))
			}
			endSpan(span, outcome)
			c.finish(ctx, outcome, ch, true)
		}()

		slogctx.Info(ctx, "Confirming payment")
		outcome = c.confirm(ctx, details).normalized()
	}()

	return ch, nil
}

// Close detaches the coordinator from its surface. A pending outcome is
// still delivered on its channel but the surface is not touched again and
// further confirmations are rejected.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// InFlight reports whether a confirmation is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) finish(ctx context.Context, outcome Outcome, ch chan<- Outcome, dispatched bool) {
	c.mu.Lock()
	c.inFlight = false
	if outcome.Terminal() {
		c.terminal = true
	}
	closed := c.closed
	c.mu.Unlock()

	if dispatched && !closed {
		c.surface.SetDismissalEnabled(true)
	}

	metrics.RecordConfirmation(ctx, outcome.Status.String())
	if outcome.Status == StatusFailed {
		slogctx.Warn(ctx, "Payment confirmation failed", "error", outcome.Err, "class", serviceerr.ClassOf(outcome.Err))
	} else {
		slogctx.Info(ctx, "Payment confirmation finished", "status", outcome.Status)
	}

	ch <- outcome
	close(ch)
}

func endSpan(span trace.Span, outcome Outcome) {
	span.SetAttributes(attribute.String("confirm.outcome", outcome.Status.String()))
	if outcome.Status == StatusFailed {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	span.End()
}

// IsInvalidDetails reports whether err rejected the payment details before
// they reached the host.
func IsInvalidDetails(err error) bool {
	return errors.Is(err, serviceerr.ErrInvalidDetails)
}
