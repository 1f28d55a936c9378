package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "apiframe"

// HTTPMetrics records request-level metrics for the HTTP server.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestCount    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	errorCount      metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metrics instruments from the global meter
// provider.
func NewHTTPMetrics() (*HTTPMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of HTTP requests currently being served"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	errorCount, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP requests that returned a 5xx status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestCount:    requestCount,
		activeRequests:  activeRequests,
		errorCount:      errorCount,
	}, nil
}

// RequestStarted increments the active request gauge.
func (m *HTTPMetrics) RequestStarted(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// RequestCompleted records a finished request.
func (m *HTTPMetrics) RequestCompleted(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	)
	m.activeRequests.Add(ctx, -1)
	m.requestCount.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	if status >= 500 {
		m.errorCount.Add(ctx, 1, attrs)
	}
}

// ShutdownMetrics records metrics about the shutdown sequence and the
// in-flight work the server is tracking.
type ShutdownMetrics struct {
	inflightWork     metric.Int64Gauge
	shutdownDuration metric.Float64Histogram
	unitsCancelled   metric.Int64Counter
	forcedShutdowns  metric.Int64Counter
	teardownFailures metric.Int64Counter
}

// NewShutdownMetrics creates shutdown metrics instruments from the global
// meter provider.
func NewShutdownMetrics() (*ShutdownMetrics, error) {
	meter := otel.Meter(meterName)

	inflightWork, err := meter.Int64Gauge(
		"server.inflight_work",
		metric.WithDescription("Number of in-flight work units registered with the tracker"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight work gauge: %w", err)
	}

	shutdownDuration, err := meter.Float64Histogram(
		"server.shutdown.duration",
		metric.WithDescription("Time taken by the shutdown sequence"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shutdown duration histogram: %w", err)
	}

	unitsCancelled, err := meter.Int64Counter(
		"server.shutdown.units_cancelled",
		metric.WithDescription("Work units cancelled because they outlived the drain window"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cancelled units counter: %w", err)
	}

	forcedShutdowns, err := meter.Int64Counter(
		"server.shutdown.forced",
		metric.WithDescription("Shutdown sequences that exhausted the timeout budget"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forced shutdown counter: %w", err)
	}

	teardownFailures, err := meter.Int64Counter(
		"server.shutdown.teardown_failures",
		metric.WithDescription("Teardown actions that returned an error or panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create teardown failure counter: %w", err)
	}

	return &ShutdownMetrics{
		inflightWork:     inflightWork,
		shutdownDuration: shutdownDuration,
		unitsCancelled:   unitsCancelled,
		forcedShutdowns:  forcedShutdowns,
		teardownFailures: teardownFailures,
	}, nil
}

// RecordInflight records the current in-flight work unit count. Suitable for
// use as a tracker observer.
func (m *ShutdownMetrics) RecordInflight(count int) {
	m.inflightWork.Record(context.Background(), int64(count))
}

// RecordShutdown records the outcome of a completed shutdown sequence.
func (m *ShutdownMetrics) RecordShutdown(ctx context.Context, reason string, elapsed time.Duration, cancelled, teardownFailures int, forced bool) {
	attrs := metric.WithAttributes(
		attribute.String("shutdown.reason", reason),
		attribute.Bool("shutdown.forced", forced),
	)
	m.shutdownDuration.Record(ctx, elapsed.Seconds(), attrs)
	if cancelled > 0 {
		m.unitsCancelled.Add(ctx, int64(cancelled), attrs)
	}
	if forced {
		m.forcedShutdowns.Add(ctx, 1, attrs)
	}
	if teardownFailures > 0 {
		m.teardownFailures.Add(ctx, int64(teardownFailures), attrs)
	}
}
