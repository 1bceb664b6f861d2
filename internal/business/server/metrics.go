package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/pkg/bridge"
)

var (
	counter metric.Int64Counter
	hist    metric.Int64Histogram
)

func initMeters(ctx context.Context, cfg *config.Config) error {
	meter := otel.Meter(
		"link-checkout/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	var err error

	counter, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	return nil
}

// newTraceMiddleware covers the bridge transport with tracing and request metrics.
func newTraceMiddleware(cfg *config.Config, operation string) func(http.Handler) http.Handler {
	traceAttrs := otlp.CreateAttributesFrom(cfg.Application, attribute.String(commoncfg.AttrOperation, operation))
	tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(bridge.RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(bridge.RequestIDHeader, requestID)
			}

			ctx := slogctx.With(r.Context(),
				commoncfg.AttrRequestID, requestID,
				commoncfg.AttrOperation, operation,
			)

			parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
			defer span.End()

			requestStartTime := time.Now()

			defer func() {
				if counter == nil || hist == nil {
					return
				}

				attrs := metric.WithAttributes(
					otlp.CreateAttributesFrom(cfg.Application,
						attribute.String("userAgent", r.UserAgent()),
						attribute.String(commoncfg.AttrOperation, operation),
					)...,
				)

				counter.Add(ctx, 1, attrs)
				hist.Record(ctx, time.Since(requestStartTime).Milliseconds(), attrs)
			}()

			slogctx.Debug(ctx, "Processing bridge request", "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
