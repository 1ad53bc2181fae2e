// Package instrumentation records OpenTelemetry metrics for the request
// execution layer. When no provider is configured every recorder is a no-op,
// keeping the hot path free of overhead.
package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrService = "service"
	attrMethod  = "method"
	attrStatus  = "status"
	attrResult  = "result"
)

// Metrics provides methods for recording observability metrics. The zero
// value is a safe no-op recorder.
type Metrics struct {
	apiRequestsTotal   metric.Int64Counter
	apiRequestDuration metric.Float64Histogram
	apiRetriesTotal    metric.Int64Counter
	batchSize          metric.Int64Histogram
	rateLimitWait      metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.apiRequestsTotal, err = meter.Int64Counter(
		"api_requests_total",
		metric.WithDescription("Total number of upstream API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api_requests_total counter: %w", err)
	}

	m.apiRequestDuration, err = meter.Float64Histogram(
		"api_request_duration_seconds",
		metric.WithDescription("Upstream API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api_request_duration_seconds histogram: %w", err)
	}

	m.apiRetriesTotal, err = meter.Int64Counter(
		"api_retries_total",
		metric.WithDescription("Total number of retried API attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api_retries_total counter: %w", err)
	}

	m.batchSize, err = meter.Int64Histogram(
		"batch_request_size",
		metric.WithDescription("Number of sub-requests per batch call"),
		metric.WithUnit("{request}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch_request_size histogram: %w", err)
	}

	m.rateLimitWait, err = meter.Float64Histogram(
		"rate_limit_wait_seconds",
		metric.WithDescription("Time spent waiting for a rate limit token"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 5.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_wait_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordAPIRequest records one completed upstream request.
func (m *Metrics) RecordAPIRequest(ctx context.Context, service, method string, status int, duration time.Duration) {
	if m == nil || m.apiRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrMethod, method),
		attribute.String(attrStatus, strconv.Itoa(status)),
	)
	m.apiRequestsTotal.Add(ctx, 1, attrs)
	m.apiRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrService, service),
	))
}

// RecordRetry records one retried attempt.
func (m *Metrics) RecordRetry(ctx context.Context, service, reason string) {
	if m == nil || m.apiRetriesTotal == nil {
		return
	}
	m.apiRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrResult, reason),
	))
}

// RecordBatchSize records the size of one batch call.
func (m *Metrics) RecordBatchSize(ctx context.Context, service string, size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(
		attribute.String(attrService, service),
	))
}

// RecordRateLimitWait records time spent blocked on the limiter.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, service string, wait time.Duration) {
	if m == nil || m.rateLimitWait == nil {
		return
	}
	m.rateLimitWait.Record(ctx, wait.Seconds(), metric.WithAttributes(
		attribute.String(attrService, service),
	))
}
