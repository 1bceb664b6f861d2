package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"
)

const meterName = "link-checkout"

type instruments struct {
	transitions   metric.Int64Counter
	bridgeReplies metric.Int64Counter
	bridgeLatency metric.Int64Histogram
	confirmations metric.Int64Counter
	browser       metric.Int64Counter
}

var (
	mu   sync.RWMutex
	inst *instruments
)

// Init creates the instruments on the global meter provider, tagged with the
// application attributes. Recording before Init uses untagged instruments.
func Init(ctx context.Context, app commoncfg.Application) error {
	i, err := newInstruments(otlp.CreateAttributesFrom(app)...)
	if err != nil {
		return err
	}

	mu.Lock()
	inst = i
	mu.Unlock()

	slogctx.Debug(ctx, "Initialised meters", "meter", meterName)

	return nil
}

func newInstruments(attrs ...attribute.KeyValue) (*instruments, error) {
	meter := otel.Meter(
		meterName,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(attrs...),
	)

	i := &instruments{}

	var err error

	i.transitions, err = meter.Int64Counter(
		"flow.transition_count",
		metric.WithDescription("Flow coordinator phase transitions"),
		metric.WithUnit("transition"),
	)
	if err != nil {
		return nil, err
	}

	i.bridgeReplies, err = meter.Int64Counter(
		"bridge.reply_count",
		metric.WithDescription("Replies sent to the hosted surface"),
		metric.WithUnit("reply"),
	)
	if err != nil {
		return nil, err
	}

	i.bridgeLatency, err = meter.Int64Histogram(
		"bridge.duration",
		metric.WithDescription("Bridge handler end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	i.confirmations, err = meter.Int64Counter(
		"confirm.outcome_count",
		metric.WithDescription("Confirmation outcomes"),
		metric.WithUnit("confirmation"),
	)
	if err != nil {
		return nil, err
	}

	i.browser, err = meter.Int64Counter(
		"browser.session_count",
		metric.WithDescription("Secure browser session results"),
		metric.WithUnit("session"),
	)
	if err != nil {
		return nil, err
	}

	return i, nil
}

func current() *instruments {
	mu.RLock()
	i := inst
	mu.RUnlock()
	if i != nil {
		return i
	}

	mu.Lock()
	defer mu.Unlock()
	if inst == nil {
		created, err := newInstruments()
		if err != nil {
			return nil
		}
		inst = created
	}

	return inst
}

func RecordTransition(ctx context.Context, from, to string) {
	i := current()
	if i == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func RecordBridgeReply(ctx context.Context, handler, outcome string, elapsed time.Duration) {
	i := current()
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("outcome", outcome),
	)
	i.bridgeReplies.Add(ctx, 1, attrs)
	i.bridgeLatency.Record(ctx, elapsed.Milliseconds(), attrs)
}

func RecordConfirmation(ctx context.Context, outcome string) {
	i := current()
	if i == nil {
		return
	}
	i.confirmations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordBrowserSession(ctx context.Context, status string) {
	i := current()
	if i == nil {
		return
	}
	i.browser.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
