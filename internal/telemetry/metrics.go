// Package telemetry counts transaction outcomes through OpenTelemetry.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records transaction outcome counts. A nil MeterProvider yields a
// recorder that drops everything, so callers never need a nil check.
type Metrics struct {
	transactions metric.Int64Counter
}

// NewMetrics builds the transaction counter on provider. If provider is nil,
// recording is a no-op.
func NewMetrics(provider *sdkmetric.MeterProvider) *Metrics {
	if provider == nil {
		return &Metrics{}
	}
	meter := provider.Meter("authenticator.sdk")
	counter, err := meter.Int64Counter("authenticator.transactions",
		metric.WithDescription("Completed authenticator transactions by type and outcome."))
	if err != nil {
		log.Printf("telemetry: transaction counter unavailable: %v", err)
		return &Metrics{}
	}
	return &Metrics{transactions: counter}
}

// RecordTransaction counts one completed transaction. outcome is "success"
// or "error".
func (m *Metrics) RecordTransaction(ctx context.Context, transactionType, outcome string) {
	if m == nil || m.transactions == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transaction.type", transactionType),
		attribute.String("transaction.outcome", outcome),
	))
}
