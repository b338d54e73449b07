package metrics

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsIngested     metric.Int64Counter
	duplicateEvents    metric.Int64Counter
	unattributedEvents metric.Int64Counter
	usageAlerts        metric.Int64Counter
	invoiceGenerations metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "voxmeter"
	}
	meter := provider.Meter(name)

	eventsIngested, err := meter.Int64Counter("voxmeter_events_ingested_total")
	if err != nil {
		return nil, err
	}
	duplicateEvents, err := meter.Int64Counter("voxmeter_duplicate_events_total")
	if err != nil {
		return nil, err
	}
	unattributedEvents, err := meter.Int64Counter("voxmeter_unattributed_events_total")
	if err != nil {
		return nil, err
	}
	usageAlerts, err := meter.Int64Counter("voxmeter_usage_alerts_total")
	if err != nil {
		return nil, err
	}
	invoiceGenerations, err := meter.Int64Counter("voxmeter_invoice_generations_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("voxmeter_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsIngested:     eventsIngested,
		duplicateEvents:    duplicateEvents,
		unattributedEvents: unattributedEvents,
		usageAlerts:        usageAlerts,
		invoiceGenerations: invoiceGenerations,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordEventIngested increments ingested event counts by type.
func (m *Metrics) RecordEventIngested(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDuplicateEvent increments duplicate delivery counts.
func (m *Metrics) RecordDuplicateEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.duplicateEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUnattributedEvent increments unattributed event counts.
func (m *Metrics) RecordUnattributedEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.unattributedEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageAlert increments alert counts by level.
func (m *Metrics) RecordUsageAlert(ctx context.Context, level string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("level", strings.TrimSpace(level)))
	m.usageAlerts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceGeneration increments invoice generation counts by result.
func (m *Metrics) RecordInvoiceGeneration(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.invoiceGenerations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":  {},
	"level":       {},
	"result":      {},
	"endpoint":    {},
	"reason":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
